// Package scheduler runs the engagement loop for one bot session: it buffers
// inbound chat, flushes batches to the completion service on a timer, speaks
// unprompted during lulls, and ends the session when the channel goes quiet.
package scheduler

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/avablake/emcee/chat"
	"github.com/avablake/emcee/config"
	"github.com/avablake/emcee/logging"
	"github.com/avablake/emcee/memory"
	"github.com/avablake/emcee/observability"
	"github.com/avablake/emcee/status"
	"github.com/avablake/emcee/tool"
)

const (
	replyPromptPrefix   = "Here are the most recent messages from Twitch Chat, please respond to this in less than 500 characters: "
	observePromptPrefix = "Here are the most recent messages from Twitch Chat, don't come up with a response to them — your reply won't be sent. This is just to keep you informed on what's being said: "
	lullPrompt          = "There have not been any new chat messages recently, please come up with something you'd like to say in Twitch Chat."
	farewellLine        = "Ah, I seem to be the only one here... I'll just see myself out then."

	memoryContextPrefix = "\n\nHere are some things you remember about the people chatting: "
	maxMemoriesPerUser  = 3
)

// ThreadRunner drives completion runs against the session's thread.
type ThreadRunner interface {
	EnsureThread(ctx context.Context, existingID string) (string, error)
	RunToCompletion(ctx context.Context, prompt string, tools tool.Registry) (string, error)
	ThreadID() string
}

// MemoryRetriever surfaces stored memories relevant to a chat batch.
type MemoryRetriever interface {
	RelevantForBatch(ctx context.Context, batchString string, maxPerUser int) ([]memory.ChatLine, []memory.Match, error)
}

// Options hold the optional collaborators of a Scheduler.
type Options struct {
	Memory   MemoryRetriever
	Tools    tool.Registry
	Reporter status.Reporter
	Metrics  *observability.Metrics
	Logger   logging.Logger
	RNG      *rand.Rand
	Now      func() time.Time
}

// Scheduler owns the engagement state for one session. All state transitions
// happen on the tick goroutine or under the mutex; at most one flush, lull, or
// farewell operation is in flight at a time.
type Scheduler struct {
	cfg       *config.Config
	transport chat.Transport
	runner    ThreadRunner
	memory    MemoryRetriever
	tools     tool.Registry
	reporter  status.Reporter
	metrics   *observability.Metrics
	logger    logging.Logger
	rng       *rand.Rand
	now       func() time.Time

	ctx context.Context

	mu           sync.Mutex
	buffer       []string
	lastFlush    time.Time
	lastBotTurn  time.Time
	lastHuman    time.Time
	botSpokeLast bool
	replying     bool

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Scheduler over the given transport and thread runner.
func New(cfg *config.Config, transport chat.Transport, runner ThreadRunner, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		Reporter: status.Noop{},
		Logger:   logging.NoOpLogger{},
		RNG:      rand.New(rand.NewSource(time.Now().UnixNano())),
		Now:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	now := opts.Now()
	return &Scheduler{
		cfg:       cfg,
		transport: transport,
		runner:    runner,
		memory:    opts.Memory,
		tools:     opts.Tools,
		reporter:  opts.Reporter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		rng:       opts.RNG,
		now:       opts.Now,
		ctx:       context.Background(),
		done:      make(chan struct{}),

		lastFlush:    now,
		lastBotTurn:  now,
		lastHuman:    now,
		botSpokeLast: true,
	}
}

// Done is closed when the session has shut down.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run connects the transport and drives the engagement loop until the session
// shuts down or ctx is cancelled. It blocks for the lifetime of the session.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx

	if _, err := s.runner.EnsureThread(ctx, s.cfg.PreviousThreadID); err != nil {
		return err
	}
	// Prime the conversation before joining the channel; the reply is not
	// posted to chat.
	if s.cfg.StartMessage != "" {
		if _, err := s.runner.RunToCompletion(ctx, s.cfg.StartMessage, s.tools); err != nil {
			s.logger.Warn("start message failed", "error", err)
		}
	}

	now := s.now()
	s.mu.Lock()
	s.lastFlush, s.lastBotTurn, s.lastHuman = now, now, now
	s.botSpokeLast = true
	s.mu.Unlock()

	s.transport.OnMessage(s.HandleMessage)
	s.transport.OnConnect(func() {
		s.logger.Info("bot is running", "channel", s.cfg.Channel)
		if line := s.pick(s.cfg.EntryLines); line != "" {
			s.say(ctx, line)
		}
		s.reporter.Report(ctx, status.Update{
			UserKey:  s.cfg.UserKey,
			BotKey:   s.cfg.BotKey,
			ThreadID: s.runner.ThreadID(),
			Status:   status.StateRunning,
		})
	})

	go s.loop(ctx)

	err := s.transport.Connect()
	select {
	case <-s.done:
		return nil
	default:
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown(context.Background())
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// HandleMessage processes one inbound chat message: self-echo is dropped,
// privileged commands are intercepted, everything else is buffered.
func (s *Scheduler) HandleMessage(msg chat.Message) {
	if msg.IsSelf {
		return
	}

	privileged := msg.IsBroadcaster || msg.IsModerator
	if privileged && strings.HasPrefix(msg.Text, "!") {
		fields := strings.Fields(msg.Text[1:])
		if len(fields) > 0 && strings.EqualFold(fields[0], s.cfg.DismissCommand) {
			s.logger.Info("dismiss command received, bot leaving", "from", msg.Username)
			s.dismiss()
		}
		// Other privileged commands are not chat; never buffered.
		return
	}

	line := "@" + msg.Username + ": " + strings.TrimSpace(strings.ReplaceAll(msg.Text, memory.BatchDelimiter, " "))
	s.mu.Lock()
	s.buffer = append(s.buffer, line)
	s.lastHuman = s.now()
	size := len(s.buffer)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BufferedLines.Set(float64(size))
	}
}

// Tick evaluates the timers once. Exactly one of flush, lull, or timeout can
// fire per tick; while a flush or lull operation is in flight, ticks only let
// the buffer accumulate.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	if s.replying {
		s.mu.Unlock()
		return
	}

	switch {
	case len(s.buffer) > 0 && now.Sub(s.lastFlush) >= s.cfg.FlushInterval():
		lines := s.buffer
		s.buffer = nil
		s.lastFlush = now
		s.replying = true
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.BufferedLines.Set(0)
		}
		go s.flush(lines)

	case !s.botSpokeLast && now.Sub(s.lastBotTurn) >= s.cfg.LullInterval():
		s.lastBotTurn = now
		s.botSpokeLast = true
		s.replying = true
		s.mu.Unlock()
		s.logger.Info("lull in chat activity, sending unprompted message")
		go s.speakUnprompted()

	case now.Sub(s.lastHuman) >= s.cfg.TimeoutInterval():
		s.mu.Unlock()
		s.logger.Info("chat inactivity timeout, bot leaving")
		if s.metrics != nil {
			s.metrics.Flushes.WithLabelValues("timeout").Inc()
		}
		s.say(s.ctx, farewellLine)
		s.Shutdown(s.ctx)

	default:
		s.mu.Unlock()
	}
}

// flush sends the batched chat lines through the completion service, either
// asking for a reply or just keeping the conversation informed.
func (s *Scheduler) flush(lines []string) {
	defer s.clearReplying()
	ctx := s.ctx

	batch := strings.ReplaceAll(strings.Join(lines, memory.BatchDelimiter), `"`, "")
	mentioned := strings.Contains(strings.ToLower(batch), strings.ToLower(s.cfg.BotName))

	reply := mentioned || s.pick(s.cfg.ReplyOdds) == "true"

	if !reply {
		if s.metrics != nil {
			s.metrics.Flushes.WithLabelValues("observe").Inc()
		}
		if _, err := s.runner.RunToCompletion(ctx, observePromptPrefix+batch, s.tools); err != nil {
			s.logger.Error("observe run failed", "error", err)
			return
		}
		s.mu.Lock()
		s.botSpokeLast = false
		s.mu.Unlock()
		return
	}

	if s.metrics != nil {
		s.metrics.Flushes.WithLabelValues("reply").Inc()
	}
	prompt := replyPromptPrefix + batch + s.memoryContext(ctx, batch)
	text, err := s.runner.RunToCompletion(ctx, prompt, s.tools)
	if err != nil {
		s.logger.Error("reply run failed", "error", err)
		return
	}
	s.sendReply(ctx, text)

	s.mu.Lock()
	s.botSpokeLast = true
	s.lastBotTurn = s.now()
	s.mu.Unlock()
}

// memoryContext looks up stored memories about the chatters in the batch and
// renders them as extra prompt context. Lookup failures degrade to no context.
func (s *Scheduler) memoryContext(ctx context.Context, batch string) string {
	if s.memory == nil {
		return ""
	}
	_, matches, err := s.memory.RelevantForBatch(ctx, batch, maxMemoriesPerUser)
	if err != nil {
		s.logger.Warn("memory lookup failed", "error", err)
		return ""
	}
	if len(matches) == 0 {
		return ""
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, "@"+m.Username+": "+m.Entry.Text)
	}
	s.logger.Debug("memory context attached", "matches", len(matches))
	return memoryContextPrefix + strings.Join(parts, "; ")
}

// sendReply fans a multi-part reply out as separate chat lines with a short
// delay between them.
func (s *Scheduler) sendReply(ctx context.Context, text string) {
	segments := strings.Split(text, memory.BatchDelimiter)
	for i, segment := range segments {
		if segment = strings.TrimSpace(segment); segment == "" {
			continue
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.FanOutDelay()):
			}
		}
		s.say(ctx, segment)
	}
}

func (s *Scheduler) speakUnprompted() {
	defer s.clearReplying()
	ctx := s.ctx
	if s.metrics != nil {
		s.metrics.Flushes.WithLabelValues("lull").Inc()
	}
	text, err := s.runner.RunToCompletion(ctx, lullPrompt, s.tools)
	if err != nil {
		s.logger.Error("unprompted run failed", "error", err)
		return
	}
	s.say(ctx, text)
}

func (s *Scheduler) clearReplying() {
	s.mu.Lock()
	s.replying = false
	s.mu.Unlock()
}

func (s *Scheduler) say(ctx context.Context, text string) {
	if err := s.transport.Say(ctx, text); err != nil {
		s.logger.Error("send failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
	}
}

// dismiss handles the privileged dismiss command: drop the buffer, say a
// weighted exit line, and shut the session down immediately.
func (s *Scheduler) dismiss() {
	s.mu.Lock()
	s.buffer = nil
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BufferedLines.Set(0)
	}
	if line := s.pick(s.cfg.ExitLines); line != "" {
		s.say(s.ctx, line)
	}
	s.Shutdown(s.ctx)
}

// pick serializes draws: rand.Rand is not safe for concurrent use and Pick is
// reached from both the tick goroutine and the transport's handler goroutine.
func (s *Scheduler) pick(list config.WeightedList) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return list.Pick(s.rng)
}

// Shutdown reports the session as stopped, disconnects the transport, and
// closes Done. Safe to call more than once.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.reporter.Report(ctx, status.Update{
			UserKey:  s.cfg.UserKey,
			BotKey:   s.cfg.BotKey,
			ThreadID: s.runner.ThreadID(),
			Status:   status.StateStopped,
		})
		if err := s.transport.Disconnect(); err != nil {
			s.logger.Warn("disconnect failed", "error", err)
		}
		close(s.done)
	})
}
