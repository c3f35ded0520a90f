package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecoveryStrategy is the corrective action chosen in response to a ban.
type RecoveryStrategy string

const (
	StrategyWait              RecoveryStrategy = "wait"
	StrategyRotateProxy       RecoveryStrategy = "rotate_proxy"
	StrategySolveCaptcha      RecoveryStrategy = "solve_captcha"
	StrategyChangeFingerprint RecoveryStrategy = "change_fingerprint"
	StrategySlowDown          RecoveryStrategy = "slow_down"
	StrategyChangePattern     RecoveryStrategy = "change_pattern"
	StrategyBuildReputation   RecoveryStrategy = "build_reputation"
	StrategyAbandon           RecoveryStrategy = "abandon"
)

var RecoveryStrategies = []RecoveryStrategy{
	StrategyWait,
	StrategyRotateProxy,
	StrategySolveCaptcha,
	StrategyChangeFingerprint,
	StrategySlowDown,
	StrategyChangePattern,
	StrategyBuildReputation,
	StrategyAbandon,
}

// ParseRecoveryStrategy converts a name such as "rotate_proxy" into a RecoveryStrategy.
func ParseRecoveryStrategy(s string) (RecoveryStrategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, known := range RecoveryStrategies {
		if normalized == string(known) || normalized == strings.ReplaceAll(string(known), "_", "") {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown recovery strategy %q", s)
}

// NewConfig carries the settings a directive asks the fetch layer to apply.
// Unset fields mean "no change".
type NewConfig struct {
	RotateProxy      bool    `json:"rotate_proxy,omitempty"`
	SolveCaptcha     bool    `json:"solve_captcha,omitempty"`
	NewFingerprint   bool    `json:"new_fingerprint,omitempty"`
	NewUserAgent     bool    `json:"new_user_agent,omitempty"`
	DelayMultiplier  float64 `json:"delay_multiplier,omitempty"`
	RandomizePattern bool    `json:"randomize_pattern,omitempty"`
	AddReferrer      bool    `json:"add_referrer,omitempty"`
	ReputationMode   bool    `json:"reputation_mode,omitempty"`
	VisitCount       int     `json:"visit_count,omitempty"`
}

// Directive is the planner's answer to a detected ban.
type Directive struct {
	Strategy    RecoveryStrategy `json:"strategy"`
	Success     bool             `json:"success"`
	ActionTaken string           `json:"action_taken"`
	WaitTime    float64          `json:"wait_time"` // seconds
	NewConfig   NewConfig        `json:"new_config"`
}

// RecoveryRecord remembers a recovery that succeeded for a domain.
type RecoveryRecord struct {
	Domain    string           `json:"domain"`
	BanType   BanType          `json:"ban_type"`
	Strategy  RecoveryStrategy `json:"strategy"`
	Timestamp time.Time        `json:"timestamp"`
}
