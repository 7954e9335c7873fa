package watcher

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"filewatch/internal/logging"
	"filewatch/internal/metrics"

	"github.com/benbjohnson/clock"
)

const (
	DefaultDebounce      = 50 * time.Millisecond
	DefaultSpamThreshold = 10 * time.Minute
)

// ProcessorOptions configures a Processor. Emit is required.
type ProcessorOptions struct {
	Delay         time.Duration
	SpamThreshold time.Duration
	Clock         clock.Clock
	Logger        *logging.Logger
	Metrics       *metrics.Registry

	// Emit receives each normalized batch. Calls never overlap and follow
	// flush order.
	Emit func([]ChangeEvent)
	// OnLog receives human readable diagnostics such as spam warnings.
	OnLog func(string)
	// OnFatal is called once when normalization fails. The processor
	// accepts no further events afterwards.
	OnFatal func(error)
}

// Processor buffers change events for a quiet period and emits the
// normalized burst once no event arrived for a full delay.
type Processor struct {
	delay         time.Duration
	spamThreshold time.Duration
	clock         clock.Clock
	logger        *logging.Logger
	metrics       *metrics.Registry
	emit          func([]ChangeEvent)
	onLog         func(string)
	onFatal       func(error)

	mutex  sync.Mutex
	buffer []ChangeEvent
	timer  *clock.Timer
	// lastSeq counts accepted events; armedSeq is its value when the
	// timer was last armed. Equal values mean the window was quiet.
	lastSeq    uint64
	armedSeq   uint64
	spamStart  time.Time
	spamWarned bool
	stopped    bool

	// emitMutex serializes delivery across flushes. It is taken while the
	// buffer lock is still held so a later flush cannot overtake.
	emitMutex sync.Mutex
}

func NewProcessor(options ProcessorOptions) *Processor {
	if options.Delay <= 0 {
		options.Delay = DefaultDebounce
	}
	if options.SpamThreshold <= 0 {
		options.SpamThreshold = DefaultSpamThreshold
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.Emit == nil {
		options.Emit = func([]ChangeEvent) {}
	}
	return &Processor{
		delay:         options.Delay,
		spamThreshold: options.SpamThreshold,
		clock:         options.Clock,
		logger:        options.Logger,
		metrics:       options.Metrics,
		emit:          options.Emit,
		onLog:         options.OnLog,
		onFatal:       options.OnFatal,
	}
}

// Process appends event to the current burst and arms the debounce timer
// when none is pending.
func (processor *Processor) Process(event ChangeEvent) {
	if processor == nil {
		return
	}
	processor.mutex.Lock()
	if processor.stopped {
		processor.mutex.Unlock()
		return
	}
	now := processor.clock.Now()
	warning := ""
	if len(processor.buffer) == 0 {
		processor.spamStart = now
		processor.spamWarned = false
	} else if !processor.spamWarned && now.Sub(processor.spamStart) > processor.spamThreshold {
		processor.spamWarned = true
		warning = fmt.Sprintf("watcher is busy catching up with %d file changes over %s; latest path is %q",
			len(processor.buffer)+1, processor.spamThreshold, event.FullPath)
	}
	processor.buffer = append(processor.buffer, event)
	processor.lastSeq++
	if processor.timer == nil {
		processor.armLocked()
	}
	pending := len(processor.buffer)
	processor.mutex.Unlock()

	if warning != "" {
		processor.metrics.IncSpamWarning()
		processor.logger.Warn("event spam detected", map[string]string{
			"buffered": strconv.Itoa(pending),
			"path":     event.FullPath,
		})
		if processor.onLog != nil {
			processor.onLog(warning)
		}
	}
}

// Pending returns the number of buffered events.
func (processor *Processor) Pending() int {
	if processor == nil {
		return 0
	}
	processor.mutex.Lock()
	defer processor.mutex.Unlock()
	return len(processor.buffer)
}

// Stop cancels a pending flush and discards buffered events.
func (processor *Processor) Stop() {
	if processor == nil {
		return
	}
	processor.mutex.Lock()
	processor.stopped = true
	if processor.timer != nil {
		processor.timer.Stop()
		processor.timer = nil
	}
	processor.buffer = nil
	processor.mutex.Unlock()
}

func (processor *Processor) armLocked() {
	processor.armedSeq = processor.lastSeq
	processor.timer = processor.clock.AfterFunc(processor.delay, processor.onTimer)
}

func (processor *Processor) onTimer() {
	processor.mutex.Lock()
	if processor.stopped {
		processor.timer = nil
		processor.mutex.Unlock()
		return
	}
	if processor.lastSeq != processor.armedSeq {
		processor.armLocked()
		processor.mutex.Unlock()
		return
	}
	batch := processor.buffer
	processor.buffer = nil
	processor.timer = nil
	processor.emitMutex.Lock()
	processor.mutex.Unlock()
	defer processor.emitMutex.Unlock()

	processor.flush(batch)
}

func (processor *Processor) flush(batch []ChangeEvent) {
	if len(batch) == 0 {
		return
	}
	normalized, err := Normalize(batch)
	if err != nil {
		processor.fail(err)
		return
	}
	processor.metrics.ObserveFlush(len(batch), len(normalized))
	processor.logger.Debug("flushing events", map[string]string{
		"buffered": strconv.Itoa(len(batch)),
		"emitted":  strconv.Itoa(len(normalized)),
	})
	if len(normalized) == 0 {
		return
	}
	processor.emit(normalized)
}

func (processor *Processor) fail(err error) {
	processor.mutex.Lock()
	alreadyStopped := processor.stopped
	processor.stopped = true
	if processor.timer != nil {
		processor.timer.Stop()
		processor.timer = nil
	}
	processor.buffer = nil
	processor.mutex.Unlock()
	if alreadyStopped {
		return
	}
	processor.metrics.IncError("invariant")
	processor.logger.Error("event normalization failed", map[string]string{
		"error": err.Error(),
	})
	if processor.onFatal != nil {
		processor.onFatal(err)
	}
}
