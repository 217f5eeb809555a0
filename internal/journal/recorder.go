package journal

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder stamps events with an id, a sequence number and a timestamp
// before handing them to a Writer.
type Recorder struct {
	w   Writer
	mu  sync.Mutex
	seq int64
	now func() time.Time
}

func NewRecorder(w Writer) *Recorder {
	if w == nil {
		w = Nop{}
	}
	return &Recorder{w: w, now: time.Now}
}

// Record appends e and returns the stamped event.
func (r *Recorder) Record(e Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.ID = uuid.NewString()
	e.Seq = r.seq
	e.TS = r.now().UTC().Unix()
	return e, r.w.Append(e)
}
