package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a named sequence of steps.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Enforcement is the starting level; empty means strict.
	Enforcement string `yaml:"enforcement,omitempty"`

	// GatewayTimeout overrides the policy's gateway timeout.
	GatewayTimeout time.Duration `yaml:"gateway_timeout,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op      string `yaml:"op"`
	Session string `yaml:"session,omitempty"`
	// Actor overrides the operation's default caller.
	Actor string `yaml:"actor,omitempty"`

	// Offset is the booking time relative to the scenario start for book
	// and reschedule, and the clock advance for advance.
	Offset    time.Duration `yaml:"offset,omitempty"`
	Therapist string        `yaml:"therapist,omitempty"`
	Forms     bool          `yaml:"forms,omitempty"`

	Party      string `yaml:"party,omitempty"`
	By         string `yaml:"by,omitempty"`
	Reason     string `yaml:"reason,omitempty"`
	Level      string `yaml:"level,omitempty"`
	Payment    string `yaml:"payment,omitempty"`
	Reference  string `yaml:"reference,omitempty"`
	ResultCode int    `yaml:"result_code,omitempty"`
	Amount     int64  `yaml:"amount,omitempty"`
	Receipt    string `yaml:"receipt,omitempty"`
	Remediate  bool   `yaml:"remediate,omitempty"`
	// Fail makes the sandbox gateway fail initiate or refund calls; "none"
	// clears it.
	Fail string `yaml:"fail,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect states what a step must produce. Empty fields are not checked.
type Expect struct {
	Outcome      string   `yaml:"outcome,omitempty"`
	Payment      string   `yaml:"payment,omitempty"`
	Status       string   `yaml:"status,omitempty"`
	Video        string   `yaml:"video,omitempty"`
	Refund       string   `yaml:"refund,omitempty"`
	RefundAmount *int64   `yaml:"refund_amount,omitempty"`
	Inbox        string   `yaml:"inbox,omitempty"`
	Notices      []string `yaml:"notices,omitempty"`
}

// Operations.
const (
	OpBook                 = "book"
	OpApprove              = "approve"
	OpDecline              = "decline"
	OpRequireForms         = "require_forms"
	OpCompleteForms        = "complete_forms"
	OpInitiate             = "initiate"
	OpWebhook              = "webhook"
	OpPaymentState         = "payment_state"
	OpReady                = "ready"
	OpOpenVideo            = "open_video"
	OpJoin                 = "join"
	OpEndVideo             = "end_video"
	OpActivity             = "activity"
	OpStart                = "start"
	OpComplete             = "complete"
	OpCancel               = "cancel"
	OpReschedule           = "reschedule"
	OpApproveReschedule    = "approve_reschedule"
	OpDeclineReschedule    = "decline_reschedule"
	OpRefund               = "refund"
	OpRetryRefund          = "retry_refund"
	OpCompleteManualRefund = "complete_manual_refund"
	OpTechnicalFailure     = "technical_failure"
	OpNoShowScan           = "no_show_scan"
	OpStuckSweep           = "stuck_sweep"
	OpSetLevel             = "set_level"
	OpAdvance              = "advance"
	OpGateway              = "gateway"
)

// sessionless operations act on the whole store or the environment.
var sessionless = map[string]bool{
	OpNoShowScan: true,
	OpStuckSweep: true,
	OpSetLevel:   true,
	OpAdvance:    true,
	OpGateway:    true,
}

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	var errs []error
	if sc.Name == "" {
		errs = append(errs, errors.New("missing required field: name"))
	}
	if len(sc.Steps) == 0 {
		errs = append(errs, errors.New("missing required field: steps"))
	}
	for i, st := range sc.Steps {
		if _, ok := defaultActors[st.Op]; !ok {
			errs = append(errs, fmt.Errorf("step %d: unknown op %q", i+1, st.Op))
			continue
		}
		if !sessionless[st.Op] && st.Session == "" {
			errs = append(errs, fmt.Errorf("step %d (%s): missing session", i+1, st.Op))
		}
	}
	return errors.Join(errs...)
}

// LoadScenarios loads every *.yaml file in dir, sorted by name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, sc)
	}
	return out, nil
}
