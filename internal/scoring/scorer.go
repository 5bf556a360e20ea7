package scoring

import (
	"sort"
	"strings"

	"sentinel-service/internal/config"
	"sentinel-service/internal/model"
)

// Additive risk weights. The final score is clamped to [0,100] after all
// applicable weights are summed, never per term.
const (
	WeightSuccessfulLogin   = 80
	WeightFailedLogin       = 10
	WeightCommandInput      = 5
	WeightSuspiciousCommand = 30
	WeightFileTransfer      = 40
	WeightPrivilegedAccount = 15
	WeightGeoRisk           = 10
	WeightNightActivity     = 5
	WeightIPReputation      = 50

	MaxScore = 100
)

// Factor labels attached to a score to explain its contributions.
const (
	FactorSuccessfulLogin   = "successful_login"
	FactorFailedLogin       = "failed_login"
	FactorCommandInput      = "command_input"
	FactorSuspiciousCommand = "suspicious_command"
	FactorFileTransfer      = "file_transfer"
	FactorPrivilegedAccount = "privileged_account"
	FactorGeoRisk           = "geo_risk"
	FactorNightActivity     = "night_activity"
	FactorIPReputation      = "ip_reputation_risk"
)

// Scorer computes a deterministic heuristic risk score for a normalized
// event. It is pure: the reputation verdict is looked up by the pipeline and
// passed in, so identical inputs always produce identical output.
type Scorer struct {
	privileged    map[string]struct{}
	suspicious    []string
	riskCountries map[string]struct{}
	nightStart    int
	nightEnd      int
}

func NewScorer(cfg config.ScoringConfig) *Scorer {
	s := &Scorer{
		privileged:    make(map[string]struct{}, len(cfg.PrivilegedAccounts)),
		suspicious:    make([]string, 0, len(cfg.SuspiciousCommands)),
		riskCountries: make(map[string]struct{}, len(cfg.RiskCountries)),
		nightStart:    cfg.NightStartHour,
		nightEnd:      cfg.NightEndHour,
	}
	for _, account := range cfg.PrivilegedAccounts {
		s.privileged[strings.ToLower(account)] = struct{}{}
	}
	for _, token := range cfg.SuspiciousCommands {
		s.suspicious = append(s.suspicious, strings.ToLower(token))
	}
	for _, country := range cfg.RiskCountries {
		s.riskCountries[country] = struct{}{}
	}
	return s
}

// Score returns the clamped risk score and the sorted set of factor labels
// that triggered. Event-kind weights are mutually exclusive with first-match
// priority success > failed > command > file-transfer; contextual weights are
// independent and stack.
func (s *Scorer) Score(ev *model.NormalizedEvent, highRiskIP bool) (int, []string) {
	score := 0
	var factors []string

	kind := canonicalKind(ev.EventType)
	switch {
	case strings.Contains(kind, "login.success"):
		score += WeightSuccessfulLogin
		factors = append(factors, FactorSuccessfulLogin)
	case strings.Contains(kind, "login.failed"):
		score += WeightFailedLogin
		factors = append(factors, FactorFailedLogin)
	case strings.Contains(kind, "command.input"):
		score += WeightCommandInput
		factors = append(factors, FactorCommandInput)
		if s.hasSuspiciousToken(ev.Command) {
			score += WeightSuspiciousCommand
			factors = append(factors, FactorSuspiciousCommand)
		}
	case strings.Contains(kind, "file.download"), strings.Contains(kind, "file.upload"):
		score += WeightFileTransfer
		factors = append(factors, FactorFileTransfer)
	}

	if _, ok := s.privileged[strings.ToLower(ev.Username)]; ok && ev.Username != "" {
		score += WeightPrivilegedAccount
		factors = append(factors, FactorPrivilegedAccount)
	}

	if _, ok := s.riskCountries[ev.Country]; ok {
		score += WeightGeoRisk
		factors = append(factors, FactorGeoRisk)
	}

	if s.isNightHour(ev.Timestamp.UTC().Hour()) {
		score += WeightNightActivity
		factors = append(factors, FactorNightActivity)
	}

	if highRiskIP {
		score += WeightIPReputation
		factors = append(factors, FactorIPReputation)
	}

	if score > MaxScore {
		score = MaxScore
	}
	if score < 0 {
		score = 0
	}

	return score, sortedUnique(factors)
}

func (s *Scorer) hasSuspiciousToken(command string) bool {
	if command == "" {
		return false
	}
	lowered := strings.ToLower(command)
	for _, token := range s.suspicious {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// isNightHour handles windows that wrap midnight, e.g. 22..5 inclusive.
func (s *Scorer) isNightHour(hour int) bool {
	if s.nightStart <= s.nightEnd {
		return hour >= s.nightStart && hour <= s.nightEnd
	}
	return hour >= s.nightStart || hour <= s.nightEnd
}

// canonicalKind folds the separator conventions of different shippers
// ("cowrie.login.success", "login-success") into one form.
func canonicalKind(kind string) string {
	return strings.NewReplacer("-", ".", "_", ".").Replace(strings.ToLower(kind))
}

func sortedUnique(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := labels[:0]
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}
