package format

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/shaiso/rmqstream/internal/block"
)

// Status — состояние парсера после Prepare.
type Status int

// Состояния парсера. Источник из очереди работает только
// с Ready, Finished и PortFull, остальные считаются нарушением протокола.
const (
	StatusReady Status = iota
	StatusFinished
	StatusPortFull
	StatusNeedData
	StatusAsync
	StatusWait
	StatusExpandPipeline
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusFinished:
		return "Finished"
	case StatusPortFull:
		return "PortFull"
	case StatusNeedData:
		return "NeedData"
	case StatusAsync:
		return "Async"
	case StatusWait:
		return "Wait"
	case StatusExpandPipeline:
		return "ExpandPipeline"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Chunk — порция распарсенных строк.
type Chunk struct {
	Columns []block.Column
	Rows    int
}

// InputFormat — синхронный pull-парсер одного сообщения.
//
// Цикл использования:
//
//	for {
//	    switch f.Prepare() {
//	    case StatusReady:    f.Work()
//	    case StatusPortFull: chunk := f.Pull()
//	    case StatusFinished: f.ResetParser(); return
//	    }
//	}
type InputFormat interface {
	// Prepare сообщает, что парсер готов сделать дальше.
	Prepare() Status

	// Work выполняет единицу работы (разбирает до MaxBlockSize строк).
	Work() error

	// Pull забирает готовый chunk. Вызывается только в состоянии PortFull.
	Pull() Chunk

	// ResetParser сбрасывает состояние для повторного использования.
	ResetParser()
}

// Settings — настройки парсеров.
type Settings struct {
	// MaxBlockSize — максимальное число строк в одном chunk.
	MaxBlockSize int

	// SkipBrokenRows — пропускать строки, которые не удалось разобрать.
	SkipBrokenRows bool

	// CSVDelimiter — разделитель полей для CSV (по умолчанию ',').
	CSVDelimiter rune
}

const defaultMaxBlockSize = 65536

func (s Settings) withDefaults() Settings {
	if s.MaxBlockSize <= 0 {
		s.MaxBlockSize = defaultMaxBlockSize
	}
	if s.CSVDelimiter == 0 {
		s.CSVDelimiter = ','
	}
	return s
}

// Factory создаёт парсер поверх потока байт одного сообщения.
type Factory func(r io.Reader, header block.Header, settings Settings) (InputFormat, error)

// Имена встроенных форматов.
const (
	NameJSONEachRow  = "JSONEachRow"
	NameCSV          = "CSV"
	NameTSV          = "TSV"
	NameLineAsString = "LineAsString"
)

// Registry — реестр форматов по имени.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry создаёт реестр со встроенными форматами.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(NameJSONEachRow, NewJSONEachRow)
	r.Register(NameCSV, NewCSV)
	r.Register(NameTSV, NewTSV)
	r.Register("TabSeparated", NewTSV)
	r.Register(NameLineAsString, NewLineAsString)
	return r
}

// Register регистрирует (или заменяет) формат.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get возвращает фабрику формата.
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}
	return f, nil
}

// Names возвращает отсортированные имена форматов.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
