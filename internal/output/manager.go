package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/fetchpool/internal/utils"
)

type JobOutput struct {
	ID          int
	ExecutionID string
	Job         utils.Job
	Status      string
	Message     string
	Bytes       int64
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Job   utils.Job
	Error error
	Time  time.Time
}

// Counts is the aggregate outcome of every job registered with a Manager.
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Pending   int
	Bytes     int64
}

// Manager keeps per-job status for the summary shown when a batch finishes.
// Outcomes are not persisted anywhere else.
type Manager struct {
	outputs map[int]*JobOutput
	mutex   sync.RWMutex
	errors  []ErrorReport
	count   int
}

func NewManager() *Manager {
	return &Manager{
		outputs: make(map[int]*JobOutput),
	}
}

func (m *Manager) Register(job utils.Job) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.count++
	now := time.Now()
	m.outputs[m.count] = &JobOutput{
		ID:          m.count,
		Job:         job,
		Status:      "pending",
		StartTime:   now,
		LastUpdated: now,
	}
	return m.count
}

func (m *Manager) Start(id int, executionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.ExecutionID = executionID
		info.Status = "running"
		info.StartTime = time.Now()
		info.LastUpdated = info.StartTime
	}
}

// Record applies a finished outcome to the job registered under id.
func (m *Manager) Record(id int, outcome utils.Outcome) {
	if outcome.Status == utils.StatusSuccess {
		m.Complete(id, outcome.Bytes, "")
		return
	}
	m.ReportError(id, outcome.Err)
}

func (m *Manager) Complete(id int, bytes int64, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Job.Filename)
		}
		info.Message = message
		info.Bytes = bytes
		info.Complete = true
		info.Status = "success"
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{
			Job:   info.Job,
			Error: err,
			Time:  info.LastUpdated,
		})
	}
}

func (m *Manager) Counts() Counts {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	c := Counts{Total: len(m.outputs)}
	for _, info := range m.outputs {
		switch info.Status {
		case "success":
			c.Succeeded++
			c.Bytes += info.Bytes
		case "error":
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c
}

// Errors returns failures in the order they were reported.
func (m *Manager) Errors() []ErrorReport {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]ErrorReport, len(m.errors))
	copy(out, m.errors)
	return out
}

func (m *Manager) completed() []*JobOutput {
	var done []*JobOutput
	for _, info := range m.outputs {
		if info.Complete {
			done = append(done, info)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		return done[i].ID < done[j].ID
	})
	return done
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

// ShowSummary writes the per-job list (when verbose) followed by the totals
// and every reported error.
func (m *Manager) ShowSummary(w io.Writer, verbose bool) {
	counts := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	indent := strings.Repeat(" ", 2)
	fmt.Fprintln(w)
	if verbose {
		for _, info := range m.completed() {
			elapsed := info.LastUpdated.Sub(info.StartTime).Round(time.Millisecond)
			fmt.Fprintf(w, "%s%s %s %s\n", indent, m.statusIndicator(info.Status),
				debugStyle.Render(elapsed.String()), info.Job.Filename)
		}
	}
	fmt.Fprintln(w, indent+success2Style.Render(fmt.Sprintf("Completed %d of %d (%s)",
		counts.Succeeded, counts.Total, utils.FormatBytes(uint64(counts.Bytes)))))
	if counts.Failed > 0 {
		fmt.Fprintln(w, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d", counts.Failed, counts.Total)))
	}
	m.displayErrors(w)
	fmt.Fprintln(w)
}

func (m *Manager) displayErrors(w io.Writer) {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Fprintf(w, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("%s -> %s", report.Job.URL, report.Job.Filename)))
		for _, line := range wrapText(fmt.Sprintf("Error (%s): %v", utils.ErrorKind(report.Error), report.Error), 2+4) {
			fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(line))
		}
	}
}
