package transfersaga

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/btree"
)

// Category groups activities that share a retry policy.
type Category string

const (
	CategoryValidation      Category = "validation"
	CategoryAccountMutation Category = "account-mutation"
	CategoryNotification    Category = "notification"
	CategoryPersistence     Category = "status-persistence"
)

// RetryPolicy configures the gateway's backoff behaviour for one category.
type RetryPolicy struct {
	Category           Category      `json:"category"`
	InitialInterval    time.Duration `json:"initial_interval"`
	MaximumInterval    time.Duration `json:"maximum_interval"`
	BackoffCoefficient float64       `json:"backoff_coefficient"`
	MaximumAttempts    int           `json:"maximum_attempts"`

	// NonRetryableTags are lowercase message fragments that force an
	// immediate failure for this category, on top of the global
	// business-error classification.
	NonRetryableTags []string `json:"non_retryable_tags,omitempty"`
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() error {
	if p.InitialInterval <= 0 {
		return fmt.Errorf("policy %s: initial interval must be positive", p.Category)
	}
	if p.MaximumInterval < p.InitialInterval {
		return fmt.Errorf("policy %s: maximum interval must be >= initial interval", p.Category)
	}
	if p.BackoffCoefficient < 1 {
		return fmt.Errorf("policy %s: backoff coefficient must be >= 1", p.Category)
	}
	if p.MaximumAttempts < 1 {
		return fmt.Errorf("policy %s: maximum attempts must be >= 1", p.Category)
	}
	return nil
}

// backoff returns the delay before the given retry. attempt is 1-based: the
// delay after the first failed attempt uses the initial interval.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.InitialInterval)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffCoefficient
		if time.Duration(delay) >= p.MaximumInterval {
			return p.MaximumInterval
		}
	}
	if time.Duration(delay) > p.MaximumInterval {
		return p.MaximumInterval
	}
	return time.Duration(delay)
}

// nonRetryable reports whether the error matches one of the policy's
// category-specific non-retryable tags.
func (p RetryPolicy) nonRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, tag := range p.NonRetryableTags {
		if strings.Contains(msg, tag) {
			return true
		}
	}
	return false
}

// PolicyTable maps activity categories to retry policies.
type PolicyTable struct {
	policies *btree.Map[Category, RetryPolicy]
}

// NewPolicyTable creates an empty policy table.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{policies: btree.NewMap[Category, RetryPolicy](4)}
}

// Set registers or replaces the policy for a category.
func (t *PolicyTable) Set(policy RetryPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	t.policies.Set(policy.Category, policy)
	return nil
}

// Get returns the policy for a category.
func (t *PolicyTable) Get(category Category) (RetryPolicy, error) {
	policy, ok := t.policies.Get(category)
	if !ok {
		return RetryPolicy{}, fmt.Errorf("no retry policy for category %q", category)
	}
	return policy, nil
}

// Categories returns the configured categories in key order.
func (t *PolicyTable) Categories() []Category {
	out := make([]Category, 0, t.policies.Len())
	t.policies.Scan(func(c Category, _ RetryPolicy) bool {
		out = append(out, c)
		return true
	})
	return out
}

// DefaultPolicyTable returns the per-category policies used unless the caller
// overrides them. Validation gets extended retries for connectivity issues;
// account mutations are critical and retried hard; notifications retry
// quickly and give up sooner.
func DefaultPolicyTable() *PolicyTable {
	table := NewPolicyTable()
	defaults := []RetryPolicy{
		{
			Category:           CategoryValidation,
			InitialInterval:    2 * time.Second,
			MaximumInterval:    5 * time.Minute,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    20,
			NonRetryableTags:   []string{"validation failed"},
		},
		{
			Category:           CategoryAccountMutation,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    2 * time.Minute,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    15,
		},
		{
			Category:           CategoryNotification,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    10,
		},
		{
			Category:           CategoryPersistence,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    15,
		},
	}
	for _, p := range defaults {
		if err := table.Set(p); err != nil {
			panic(err) // defaults are statically valid
		}
	}
	return table
}
