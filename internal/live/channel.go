package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelworks/infograph-backend/internal/logger"
)

// ErrAlreadyConnected is returned by Connect while a session is active.
var ErrAlreadyConnected = errors.New("live: session already active")

// Sample rates the live endpoint uses. Microphone audio goes up at 16kHz,
// model speech comes down at 24kHz.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// State of the live discussion channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateInterrupted  State = "interrupted"
	StateErrored      State = "errored"
)

// CaptureSource supplies microphone frames as float samples at
// InputSampleRate. The channel stops reading when the frame channel closes
// or the session ends.
type CaptureSource interface {
	Frames() <-chan []float32
}

// PlaybackSink plays model speech. Play schedules one PCM chunk at the given
// wall-clock start; Stop discards everything queued.
type PlaybackSink interface {
	Play(start time.Time, pcm []byte)
	Stop()
}

// Channel runs one live voice discussion about the current infographic. It
// owns the transport for its lifetime and funnels every inbound event
// through a single processing loop, so playback scheduling and state
// transitions never race.
type Channel struct {
	log   *logger.Logger
	dial  TransportDialer
	sched *Scheduler

	// OnState and OnVolume, when set, are invoked from the channel's own
	// goroutines. Set them before Connect.
	OnState  func(State)
	OnVolume func(float64)

	mu        sync.Mutex
	state     State
	transport Transport
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewChannel(log *logger.Logger, dial TransportDialer, clock Clock) *Channel {
	return &Channel{
		log:   log,
		dial:  dial,
		sched: NewScheduler(clock),
		state: StateDisconnected,
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.OnState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Connect dials the live endpoint, shares the infographic as context, and
// starts the capture and processing loops. It returns once the connection
// is established; the loops run until Disconnect or a transport failure.
func (c *Channel) Connect(ctx context.Context, imageData []byte, mimeType string, capture CaptureSource, sink PlaybackSink) error {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateErrored {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()
	if c.OnState != nil {
		c.OnState(StateConnecting)
	}

	transport, err := c.dial(ctx)
	if err != nil {
		c.setState(StateErrored)
		return err
	}
	if len(imageData) > 0 {
		if err := transport.SendImage(ctx, imageData, mimeType); err != nil {
			transport.Close()
			c.setState(StateErrored)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.transport = transport
	c.cancel = cancel
	c.mu.Unlock()
	c.setState(StateConnected)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		g, gctx := errgroup.WithContext(runCtx)
		// Either loop finishing, cleanly or not, ends the session for both.
		// Cancellation is the normal shutdown path, not an error.
		g.Go(func() error {
			defer cancel()
			if err := c.captureLoop(gctx, transport, capture); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			defer cancel()
			if err := c.processLoop(gctx, transport, sink); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		err := g.Wait()
		cancel()
		// Full teardown even when the session ends on its own: the
		// transport (and its read loop) must not outlive the channel.
		transport.Close()
		sink.Stop()
		c.sched.Flush()

		c.mu.Lock()
		c.transport = nil
		c.cancel = nil
		c.mu.Unlock()
		if err != nil {
			c.log.Warn("live: session ended with error", "error", err)
			c.setState(StateErrored)
		} else {
			c.setState(StateDisconnected)
		}
	}()
	return nil
}

// Disconnect tears the session down and waits for the loops to exit.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	transport := c.transport
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if transport != nil {
		transport.Close()
	}
	c.wg.Wait()
}

// captureLoop forwards microphone frames upstream and reports speaking
// volume. A send failure ends the session.
func (c *Channel) captureLoop(ctx context.Context, transport Transport, capture CaptureSource) error {
	if capture == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-capture.Frames():
			if !ok {
				return nil
			}
			if c.OnVolume != nil {
				c.OnVolume(RMS(frame))
			}
			if err := transport.SendAudio(ctx, FloatToPCM16(frame)); err != nil {
				return err
			}
		}
	}
}

// processLoop is the only consumer of transport events. Audio chunks are
// scheduled back to back; an interrupt discards queued playback and resets
// the schedule so the model's next reply starts immediately.
func (c *Channel) processLoop(ctx context.Context, transport Transport, sink PlaybackSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-transport.Events():
			if !ok {
				return nil
			}
			switch e := ev.(type) {
			case AudioChunk:
				c.setState(StateConnected)
				d := pcmDuration(len(e.PCM), OutputSampleRate)
				sink.Play(c.sched.Schedule(d), e.PCM)
			case Interrupted:
				sink.Stop()
				c.sched.Flush()
				c.setState(StateInterrupted)
			case Closed:
				return nil
			case Errored:
				return e.Err
			}
		}
	}
}

func pcmDuration(byteLen, sampleRate int) time.Duration {
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
