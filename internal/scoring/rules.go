package scoring

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"gopkg.in/yaml.v3"
)

// VulnClass is a named vulnerability family that tool specific rule codes
// resolve to.
type VulnClass string

const (
	// CRITICAL band
	ClassSQLInjection          VulnClass = "sql_injection"
	ClassCommandInjection      VulnClass = "command_injection"
	ClassCodeEval              VulnClass = "code_eval"
	ClassUnsafeDeserialization VulnClass = "unsafe_deserialization"
	ClassDangerousSend         VulnClass = "dangerous_send"
	ClassUnsafeReflection      VulnClass = "unsafe_reflection"

	// HIGH band
	ClassXSS               VulnClass = "cross_site_scripting"
	ClassCSRF              VulnClass = "cross_site_request_forgery"
	ClassSSRF              VulnClass = "server_side_request_forgery"
	ClassMassAssignment    VulnClass = "mass_assignment"
	ClassFileAccess        VulnClass = "file_access"
	ClassDynamicRenderPath VulnClass = "dynamic_render_path"
	ClassAccessControl     VulnClass = "access_control"

	// MEDIUM band
	ClassSessionSettings VulnClass = "session_settings"
	ClassSecretExposure  VulnClass = "secret_exposure"
	ClassOpenRedirect    VulnClass = "open_redirect"
	ClassWeakCrypto      VulnClass = "weak_crypto"
	ClassEOLFramework    VulnClass = "eol_framework"

	// LOW band
	ClassValidationRegex       VulnClass = "validation_regex"
	ClassDenialOfService       VulnClass = "denial_of_service"
	ClassInformationDisclosure VulnClass = "information_disclosure"

	ClassUnknown VulnClass = ""
)

// MaxRuleBonus bounds the per-class bonus. It is kept below the gap between
// adjacent severity base weights so that a bonus never crosses a band.
const MaxRuleBonus = 1.0

// ClassProfile is the band and intra-band bonus of a vulnerability class.
type ClassProfile struct {
	Severity schemas.Severity `yaml:"severity"`
	Bonus    float64          `yaml:"bonus"`
}

var defaultProfiles = map[VulnClass]ClassProfile{
	ClassCommandInjection:      {schemas.SeverityCritical, 1.0},
	ClassCodeEval:              {schemas.SeverityCritical, 1.0},
	ClassUnsafeDeserialization: {schemas.SeverityCritical, 0.9},
	ClassSQLInjection:          {schemas.SeverityCritical, 0.8},
	ClassUnsafeReflection:      {schemas.SeverityCritical, 0.6},
	ClassDangerousSend:         {schemas.SeverityCritical, 0.5},

	ClassFileAccess:        {schemas.SeverityHigh, 0.8},
	ClassSSRF:              {schemas.SeverityHigh, 0.7},
	ClassMassAssignment:    {schemas.SeverityHigh, 0.6},
	ClassXSS:               {schemas.SeverityHigh, 0.5},
	ClassDynamicRenderPath: {schemas.SeverityHigh, 0.5},
	ClassCSRF:              {schemas.SeverityHigh, 0.4},
	ClassAccessControl:     {schemas.SeverityHigh, 0.3},

	ClassSecretExposure:  {schemas.SeverityMedium, 0.6},
	ClassOpenRedirect:    {schemas.SeverityMedium, 0.5},
	ClassSessionSettings: {schemas.SeverityMedium, 0.3},
	ClassWeakCrypto:      {schemas.SeverityMedium, 0.3},
	ClassEOLFramework:    {schemas.SeverityMedium, 0.2},

	ClassDenialOfService:       {schemas.SeverityLow, 0.2},
	ClassInformationDisclosure: {schemas.SeverityLow, 0.1},
	ClassValidationRegex:       {schemas.SeverityLow, 0.0},
}

// defaultRuleCodes maps Brakeman warning codes to classes.
var defaultRuleCodes = map[string]VulnClass{
	"0":  ClassSQLInjection,
	"1":  ClassSQLInjection,
	"2":  ClassXSS,
	"3":  ClassXSS,
	"4":  ClassXSS,
	"5":  ClassXSS,
	"6":  ClassCSRF,
	"7":  ClassCSRF,
	"8":  ClassCSRF,
	"9":  ClassSecretExposure,
	"10": ClassAccessControl,
	"11": ClassAccessControl,
	"12": ClassAccessControl,
	"13": ClassCodeEval,
	"14": ClassCommandInjection,
	"15": ClassDynamicRenderPath,
	"16": ClassFileAccess,
	"17": ClassMassAssignment,
	"18": ClassOpenRedirect,
	"19": ClassMassAssignment,
	"20": ClassMassAssignment,
	"21": ClassXSS,
	"22": ClassXSS,
	"23": ClassDangerousSend,
	"24": ClassUnsafeReflection,
	"25": ClassUnsafeDeserialization,
	"26": ClassSessionSettings,
	"27": ClassSessionSettings,
	"28": ClassXSS,
	"29": ClassSecretExposure,
	"30": ClassValidationRegex,
}

// keywordRule matches when every term in all is present, or when any term
// in any is present.
type keywordRule struct {
	class VulnClass
	all   []string
	any   []string
}

// keywordRules are tried in order against the lower-cased category and
// message when the rule code gives no answer.
var keywordRules = []keywordRule{
	{class: ClassSQLInjection, all: []string{"sql", "inject"}},
	{class: ClassCommandInjection, any: []string{"command injection", "shell injection"}},
	{class: ClassCodeEval, any: []string{"remote code", "code eval", "code execution"}},
	{class: ClassUnsafeDeserialization, any: []string{"deserializ"}},
	{class: ClassXSS, any: []string{"xss", "cross-site scripting", "cross site scripting"}},
	{class: ClassCSRF, any: []string{"csrf", "cross-site request forgery", "cross site request forgery"}},
	{class: ClassSSRF, any: []string{"ssrf", "server-side request forgery", "server side request forgery"}},
	{class: ClassMassAssignment, any: []string{"mass assignment"}},
	{class: ClassFileAccess, any: []string{"path traversal", "file access", "directory traversal"}},
	{class: ClassOpenRedirect, any: []string{"redirect"}},
	{class: ClassSecretExposure, any: []string{"secret", "token", "password", "credential"}},
	{class: ClassSessionSettings, any: []string{"session"}},
	{class: ClassWeakCrypto, any: []string{"weak hash", "md5", "sha1", "weak cipher"}},
	{class: ClassEOLFramework, any: []string{"end-of-life", "end of life", "unsupported version"}},
	{class: ClassDenialOfService, any: []string{"denial of service", "redos"}},
	{class: ClassInformationDisclosure, any: []string{"information disclosure", "information leak"}},
}

func (k keywordRule) matches(text string) bool {
	if len(k.all) > 0 {
		for _, term := range k.all {
			if !strings.Contains(text, term) {
				return false
			}
		}
		return true
	}
	for _, term := range k.any {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// RuleTable resolves rule codes to vulnerability classes and classes to
// their severity profile. It is not modified after construction and is
// safe for concurrent use.
type RuleTable struct {
	codes    map[string]VulnClass
	profiles map[VulnClass]ClassProfile
}

// DefaultRuleTable returns the built-in Brakeman table.
func DefaultRuleTable() *RuleTable {
	t := &RuleTable{
		codes:    make(map[string]VulnClass, len(defaultRuleCodes)),
		profiles: make(map[VulnClass]ClassProfile, len(defaultProfiles)),
	}
	for code, class := range defaultRuleCodes {
		t.codes[code] = class
	}
	for class, p := range defaultProfiles {
		t.profiles[class] = p
	}
	return t
}

func (t *RuleTable) clone() *RuleTable {
	c := &RuleTable{
		codes:    make(map[string]VulnClass, len(t.codes)),
		profiles: make(map[VulnClass]ClassProfile, len(t.profiles)),
	}
	for k, v := range t.codes {
		c.codes[k] = v
	}
	for k, v := range t.profiles {
		c.profiles[k] = v
	}
	return c
}

// brakemanPrefixes are stripped before a numeric warning code is compared.
var brakemanPrefixes = []string{"BRAKEMAN-", "BRAKEMAN_", "BRAKEMAN", "BRAKE"}

// normalizeRuleCode reduces "BRAKE0014", "brakeman-14" and " 14 " to "14".
// Anything else is returned upper cased so that custom rule names still
// match overrides and foreign numbering schemes (CWE-89) stay distinct.
func normalizeRuleCode(ruleID string) string {
	code := strings.ToUpper(strings.TrimSpace(ruleID))
	if code == "" {
		return ""
	}
	digits := code
	for _, prefix := range brakemanPrefixes {
		if strings.HasPrefix(digits, prefix) {
			digits = strings.TrimPrefix(digits, prefix)
			break
		}
	}
	if n, err := strconv.Atoi(digits); err == nil && n >= 0 {
		return strconv.Itoa(n)
	}
	return code
}

// Lookup resolves a rule identifier to a class.
func (t *RuleTable) Lookup(ruleID string) (VulnClass, bool) {
	code := normalizeRuleCode(ruleID)
	if code == "" {
		return ClassUnknown, false
	}
	class, ok := t.codes[code]
	return class, ok
}

// Profile returns the band and bonus of a class.
func (t *RuleTable) Profile(class VulnClass) (ClassProfile, bool) {
	p, ok := t.profiles[class]
	return p, ok
}

// Classify resolves a finding to a class and profile. The rule code is
// consulted first, then keywords in the category and message. A finding
// with no signal resolves to UNKNOWN with a zero bonus.
func (t *RuleTable) Classify(f schemas.Finding) (VulnClass, ClassProfile) {
	if class, ok := t.Lookup(f.RuleID); ok {
		if p, ok := t.profiles[class]; ok {
			return class, p
		}
	}

	text := strings.ToLower(f.Category + " " + f.Message)
	for _, rule := range keywordRules {
		if rule.matches(text) {
			if p, ok := t.profiles[rule.class]; ok {
				return rule.class, p
			}
		}
	}
	return ClassUnknown, ClassProfile{Severity: schemas.SeverityUnknown}
}

// Classes returns the known classes in sorted order.
func (t *RuleTable) Classes() []VulnClass {
	out := make([]VulnClass, 0, len(t.profiles))
	for c := range t.profiles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// -- Overrides --

// RuleOverrides is the YAML document accepted by LoadRuleOverrides.
//
//	rules:
//	  "31": mass_assignment
//	  CUSTOM-LDAP: ldap_injection
//	classes:
//	  ldap_injection: {severity: CRITICAL, bonus: 0.7}
type RuleOverrides struct {
	Rules   map[string]VulnClass       `yaml:"rules"`
	Classes map[VulnClass]ClassProfile `yaml:"classes"`
}

// Apply returns a copy of base with the overrides merged in. Every class
// referenced by a rule must exist in base or in the overrides.
func (o RuleOverrides) Apply(base *RuleTable) (*RuleTable, error) {
	t := base.clone()

	for class, p := range o.Classes {
		sev, ok := schemas.ParseSeverity(string(p.Severity))
		if !ok || sev == schemas.SeverityUnknown {
			return nil, fmt.Errorf("class %q: severity must be one of LOW, MEDIUM, HIGH, CRITICAL, got %q", class, p.Severity)
		}
		if p.Bonus < 0 || p.Bonus > MaxRuleBonus {
			return nil, fmt.Errorf("class %q: bonus %.2f outside [0, %.1f]", class, p.Bonus, MaxRuleBonus)
		}
		t.profiles[class] = ClassProfile{Severity: sev, Bonus: p.Bonus}
	}

	for code, class := range o.Rules {
		if _, ok := t.profiles[class]; !ok {
			return nil, fmt.Errorf("rule %q references unknown class %q", code, class)
		}
		norm := normalizeRuleCode(code)
		if norm == "" {
			return nil, fmt.Errorf("empty rule code for class %q", class)
		}
		t.codes[norm] = class
	}
	return t, nil
}

// LoadRuleOverrides reads a YAML override file and merges it into base.
func LoadRuleOverrides(path string, base *RuleTable) (*RuleTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var o RuleOverrides
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	t, err := o.Apply(base)
	if err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return t, nil
}
