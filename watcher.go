package zk

import (
	"fmt"
	"reflect"
	"sort"
)

// Watcher receives one-shot node events.
//
// Two registrations of the same watcher on the same path and class are
// merged, identity being interface equality. Use NewWatcher to wrap a func.
type Watcher interface {
	Process(ev Event)
}

type funcWatcher struct {
	fn func(ev Event)
}

func (w *funcWatcher) Process(ev Event) {
	w.fn(ev)
}

// NewWatcher wraps fn. Every call returns a distinct watcher.
func NewWatcher(fn func(ev Event)) Watcher {
	return &funcWatcher{fn: fn}
}

type watchClass int

const (
	watchClassData watchClass = iota
	watchClassExist
	watchClassChild
)

func (c watchClass) String() string {
	switch c {
	case watchClassData:
		return "data"
	case watchClassExist:
		return "existence"
	default:
		return "child"
	}
}

type watchPathType struct {
	path   string
	wClass watchClass
}

// WatcherManager keeps one-shot watcher registrations keyed by path and
// watch class. It is not safe for concurrent use, the ConnectionManager
// guards it with its own mutex.
type WatcherManager struct {
	watchers map[watchPathType][]Watcher
}

func NewWatcherManager() *WatcherManager {
	return &WatcherManager{
		watchers: map[watchPathType][]Watcher{},
	}
}

func (m *WatcherManager) register(path string, wClass watchClass, w Watcher) error {
	if err := ValidatePath(path, false); err != nil {
		return err
	}
	if w == nil {
		return ErrNilWatcher
	}

	key := watchPathType{path: path, wClass: wClass}
	list := m.watchers[key]
	if reflect.TypeOf(w).Comparable() {
		for _, existing := range list {
			if existing == w {
				return nil
			}
		}
	}
	m.watchers[key] = append(list, w)
	return nil
}

func (m *WatcherManager) RegisterDataWatcher(path string, w Watcher) error {
	return m.register(path, watchClassData, w)
}

func (m *WatcherManager) RegisterChildWatcher(path string, w Watcher) error {
	return m.register(path, watchClassChild, w)
}

func (m *WatcherManager) RegisterExistenceWatcher(path string, w Watcher) error {
	return m.register(path, watchClassExist, w)
}

func (m *WatcherManager) paths(wClass watchClass) []string {
	var result []string
	for key := range m.watchers {
		if key.wClass == wClass {
			result = append(result, key.path)
		}
	}
	sort.Strings(result)
	return result
}

// DataWatcherPaths returns the sorted paths with data watchers.
func (m *WatcherManager) DataWatcherPaths() []string {
	return m.paths(watchClassData)
}

func (m *WatcherManager) ChildWatcherPaths() []string {
	return m.paths(watchClassChild)
}

func (m *WatcherManager) ExistenceWatcherPaths() []string {
	return m.paths(watchClassExist)
}

func (m *WatcherManager) IsEmpty() bool {
	return len(m.watchers) == 0
}

// Clear drops every registration without notifying.
func (m *WatcherManager) Clear() {
	m.watchers = map[watchPathType][]Watcher{}
}

func computeWatchClasses(eventType EventType) ([]watchClass, error) {
	switch eventType {
	case EventNodeCreated, EventNodeDataChanged:
		return []watchClass{watchClassData, watchClassExist}, nil
	case EventNodeDeleted:
		return []watchClass{watchClassData, watchClassChild}, nil
	case EventNodeChildrenChanged:
		return []watchClass{watchClassChild}, nil
	default:
		return nil, fmt.Errorf("zk: unknown watcher event type: %d", eventType)
	}
}

// take removes and returns the watchers triggered by ev.
func (m *WatcherManager) take(ev Event) ([]Watcher, error) {
	classes, err := computeWatchClasses(ev.Type)
	if err != nil {
		return nil, err
	}

	var result []Watcher
	for _, wClass := range classes {
		key := watchPathType{path: ev.Path, wClass: wClass}
		result = append(result, m.watchers[key]...)
		delete(m.watchers, key)
	}
	return result, nil
}

// Emit removes the registrations triggered by ev and calls their watchers.
func (m *WatcherManager) Emit(ev Event) error {
	watchers, err := m.take(ev)
	if err != nil {
		return err
	}
	for _, w := range watchers {
		w.Process(ev)
	}
	return nil
}
