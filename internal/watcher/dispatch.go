package watcher

import (
	"sync"

	"filewatch/internal/metrics"
)

type ChangeHandler func(source *FileWatcher, event ChangeEvent)

type ErrorHandler func(source *FileWatcher, err error)

type LogHandler func(source *FileWatcher, message string)

// dispatcher fans normalized events out to the listeners registered per
// change type. Every delivery goes through the invoker when one is set.
type dispatcher struct {
	source  *FileWatcher
	invoker Invoker
	metrics *metrics.Registry

	mutex   sync.RWMutex
	changes map[ChangeType][]ChangeHandler
	errors  []ErrorHandler
	logs    []LogHandler
}

func newDispatcher(source *FileWatcher, invoker Invoker, registry *metrics.Registry) *dispatcher {
	return &dispatcher{
		source:  source,
		invoker: invoker,
		metrics: registry,
		changes: make(map[ChangeType][]ChangeHandler),
	}
}

func (dispatcher *dispatcher) addChange(changeType ChangeType, handler ChangeHandler) {
	if handler == nil {
		return
	}
	dispatcher.mutex.Lock()
	dispatcher.changes[changeType] = append(dispatcher.changes[changeType], handler)
	dispatcher.mutex.Unlock()
}

func (dispatcher *dispatcher) addError(handler ErrorHandler) {
	if handler == nil {
		return
	}
	dispatcher.mutex.Lock()
	dispatcher.errors = append(dispatcher.errors, handler)
	dispatcher.mutex.Unlock()
}

func (dispatcher *dispatcher) addLog(handler LogHandler) {
	if handler == nil {
		return
	}
	dispatcher.mutex.Lock()
	dispatcher.logs = append(dispatcher.logs, handler)
	dispatcher.mutex.Unlock()
}

func (dispatcher *dispatcher) dispatch(events []ChangeEvent) {
	for _, event := range events {
		dispatcher.mutex.RLock()
		handlers := append([]ChangeHandler(nil), dispatcher.changes[event.ChangeType]...)
		dispatcher.mutex.RUnlock()

		dispatcher.metrics.IncEmitted(event.ChangeType.String())
		if len(handlers) == 0 {
			continue
		}
		event := event
		dispatcher.invoke(func() {
			for _, handler := range handlers {
				handler(dispatcher.source, event)
			}
		})
	}
}

func (dispatcher *dispatcher) raiseError(err error) {
	if err == nil {
		return
	}
	dispatcher.mutex.RLock()
	handlers := append([]ErrorHandler(nil), dispatcher.errors...)
	dispatcher.mutex.RUnlock()
	if len(handlers) == 0 {
		return
	}
	dispatcher.invoke(func() {
		for _, handler := range handlers {
			handler(dispatcher.source, err)
		}
	})
}

func (dispatcher *dispatcher) raiseLog(message string) {
	dispatcher.mutex.RLock()
	handlers := append([]LogHandler(nil), dispatcher.logs...)
	dispatcher.mutex.RUnlock()
	if len(handlers) == 0 {
		return
	}
	dispatcher.invoke(func() {
		for _, handler := range handlers {
			handler(dispatcher.source, message)
		}
	})
}

func (dispatcher *dispatcher) invoke(fn func()) {
	if dispatcher.invoker == nil {
		fn()
		return
	}
	dispatcher.invoker(fn)
}
