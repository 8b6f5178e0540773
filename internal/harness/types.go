package harness

// TraceEvent is the observable result of one step: its outcome, the
// session's states afterwards and the notifications it emitted.
type TraceEvent struct {
	Step         int      `json:"step"`
	Op           string   `json:"op"`
	Session      string   `json:"session,omitempty"`
	Outcome      string   `json:"outcome"`
	Payment      string   `json:"payment,omitempty"`
	Status       string   `json:"status,omitempty"`
	Video        string   `json:"video,omitempty"`
	Refund       string   `json:"refund,omitempty"`
	RefundAmount int64    `json:"refund_amount,omitempty"`
	Version      int64    `json:"version,omitempty"`
	Inbox        string   `json:"inbox,omitempty"`
	Detail       string   `json:"detail,omitempty"`
	Notices      []string `json:"notices,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// toCanonical converts the event for canonical JSON.
func (e TraceEvent) toCanonical() map[string]any {
	m := map[string]any{
		"step":    e.Step,
		"op":      e.Op,
		"outcome": e.Outcome,
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("session", e.Session)
	put("payment", e.Payment)
	put("status", e.Status)
	put("video", e.Video)
	put("refund", e.Refund)
	put("inbox", e.Inbox)
	put("detail", e.Detail)
	if e.RefundAmount != 0 {
		m["refund_amount"] = e.RefundAmount
	}
	if e.Version != 0 {
		m["version"] = e.Version
	}
	if len(e.Notices) > 0 {
		m["notices"] = e.Notices
	}
	return m
}
