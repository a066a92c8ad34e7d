package scoring

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/tauforge/internal/dialogue"
	"github.com/haasonsaas/tauforge/internal/toolcheck"
)

// Finding kinds and their score weights. A conversation's score is the
// sum of the weights of its distinct kinds, capped at 100. Schema
// forgiveness carries the most weight: an invalid call answered with
// success is the clearest world-model failure the rules can prove.
const (
	KindSchemaForgiveness        = "schema_forgiveness"
	KindExtraArgsForgiveness     = "extra_args_forgiveness"
	KindCrossUserSuccess         = "cross_user_success"
	KindPendingDeliveredGating   = "pending_delivered_gating_success"
	KindAirlineCancelPolicy      = "airline_cancel_policy_forgiveness"
	KindAirlineBasicEconomy      = "airline_basic_economy_modified_success"
	KindTelecomRefuelOver2GB     = "telecom_refuel_over_2gb_success"
	KindTelecomSuspendSuspended  = "telecom_suspend_already_suspended_success"
	KindTelecomResumeExpired     = "telecom_resume_expired_contract_success"
	KindTelecomPaymentPaid       = "telecom_payment_already_paid_success"
	KindTelecomPaymentNotOverdue = "telecom_payment_not_overdue_success"
)

var weights = map[string]int{
	KindSchemaForgiveness:        80,
	KindExtraArgsForgiveness:     40,
	KindCrossUserSuccess:         60,
	KindPendingDeliveredGating:   60,
	KindAirlineCancelPolicy:      60,
	KindAirlineBasicEconomy:      60,
	KindTelecomRefuelOver2GB:     60,
	KindTelecomSuspendSuspended:  60,
	KindTelecomResumeExpired:     60,
	KindTelecomPaymentPaid:       60,
	KindTelecomPaymentNotOverdue: 60,
}

// Retail tools gated on a specific order status.
var (
	pendingOnlyTools = map[string]bool{
		"cancel_pending_order":         true,
		"modify_pending_order_address": true,
		"modify_pending_order_payment": true,
		"modify_pending_order_items":   true,
	}
	deliveredOnlyTools = map[string]bool{
		"return_delivered_order_items":   true,
		"exchange_delivered_order_items": true,
	}
)

// Sample is the slice of a conversation record the scorer reads. It
// decodes both pipeline output and externally produced files of the
// same shape; missing fields scan as empty.
type Sample struct {
	System        string          `json:"system"`
	Tools         json.RawMessage `json:"tools"`
	Conversations []dialogue.Turn `json:"conversations"`
	Domain        string          `json:"domain"`
	SimulatorMode string          `json:"simulator_mode"`
	BasedOnSample string          `json:"based_on_sample"`
}

// Finding is one flagged violation-then-success pattern. EvidenceCall is
// the decoded function call; EvidenceObservation is a flattened snippet
// of the observation that answered it.
type Finding struct {
	Mode                string         `json:"mode"`
	ConvIdx             int            `json:"conv_idx"`
	Kind                string         `json:"kind"`
	TurnIdx             int            `json:"turn_idx"`
	ToolName            string         `json:"tool_name"`
	Why                 string         `json:"why"`
	EvidenceCall        map[string]any `json:"evidence_call"`
	EvidenceObservation string         `json:"evidence_observation_snip"`
}

// ConversationScore aggregates one conversation's findings. Findings are
// carried for the flags file but excluded from the per-conversation
// score records.
type ConversationScore struct {
	Mode     string    `json:"mode"`
	ConvIdx  int       `json:"conv_idx"`
	Score    int       `json:"score"`
	Kinds    []string  `json:"kinds"`
	Findings []Finding `json:"-"`
}

// Analyze scores a single conversation. It is a pure function of its
// inputs: every fact it uses is extracted from the sample's own turns,
// never assumed.
func Analyze(mode string, convIdx int, sample Sample) ConversationScore {
	a := newAnalyzer(mode, convIdx, sample)
	for i := range a.turns {
		a.inspectTurn(i)
	}

	kinds := uniqueKinds(a.flags)
	total := 0
	for _, k := range kinds {
		total += weights[k]
	}
	return ConversationScore{
		Mode:     mode,
		ConvIdx:  convIdx,
		Score:    capScore(total),
		Kinds:    kinds,
		Findings: a.flags,
	}
}

// analyzer holds the per-conversation facts and trackers one Analyze
// call accumulates while walking the turns.
type analyzer struct {
	mode    string
	convIdx int
	turns   []dialogue.Turn
	schemas map[string]toolcheck.Schema

	airline bool
	telecom bool
	oneUser bool

	now    wallTime
	hasNow bool

	// Latest reservation facts, airline conversations only.
	cabin      string
	insurance  string
	createdAt  wallTime
	hasCreated bool
	reason     string

	// Running trackers updated from lookup observations.
	authedUser      string
	lastOrderStatus map[string]string

	flags []Finding
}

func newAnalyzer(mode string, convIdx int, sample Sample) *analyzer {
	a := &analyzer{
		mode:            mode,
		convIdx:         convIdx,
		turns:           sample.Conversations,
		schemas:         parseTools(sample.Tools),
		airline:         strings.Contains(sample.System, airlinePolicyMarker),
		telecom:         strings.Contains(sample.System, telecomPolicyMarker),
		oneUser:         strings.Contains(sample.System, oneUserClause),
		lastOrderStatus: map[string]string{},
	}
	a.now, a.hasNow = parseCurrentTime(sample.System)
	if a.airline {
		if res := findLatestReservationDetails(a.turns); res != nil {
			a.cabin, _ = res["cabin"].(string)
			a.insurance, _ = res["insurance"].(string)
			if s, ok := res["created_at"].(string); ok {
				a.createdAt, a.hasCreated = parseISODateTime(s)
			}
		}
		a.reason = findCancellationReason(a.turns)
	}
	return a
}

// inspectTurn runs every check against the function call at turn i. The
// gate is shared: the call must parse, the next turn must be an
// observation, and that observation must read as success, not error.
func (a *analyzer) inspectTurn(i int) {
	t := a.turns[i]
	if t.From != dialogue.RoleFunctionCall {
		return
	}
	call := extractJSONObject(t.Value)
	if call == nil {
		return
	}
	tool, ok := call["name"].(string)
	if !ok {
		return
	}
	if i+1 >= len(a.turns) || a.turns[i+1].From != dialogue.RoleObservation {
		return
	}
	obs := strings.TrimSpace(a.turns[i+1].Value)
	if IsErrorLike(obs) || !IsSuccessLike(obs) {
		return
	}

	a.trackIdentity(tool, obs)

	args, _ := call["arguments"].(map[string]any)

	if a.airline {
		a.checkAirline(i, tool, call, obs)
	}
	if a.telecom {
		a.checkTelecom(i, tool, call, args, obs)
	}
	a.checkSchema(i, tool, call, obs)
	a.checkExtraArgs(i, tool, call, args, obs)
	a.checkCrossUser(i, tool, call, args, obs)
	a.checkOrderGating(i, tool, call, args, obs)
}

// trackIdentity updates the authenticated-user and order-status trackers
// from user, reservation and order lookups.
func (a *analyzer) trackIdentity(tool, obs string) {
	switch tool {
	case "get_user_details", "get_reservation_details":
		if obj := jsonObservation(obs); obj != nil {
			if uid, ok := firstTruthy(obj, "user_id", "id", "user").(string); ok && uid != "" {
				a.authedUser = uid
			}
		}
	case "get_order_details", "get_order_status":
		if obj := jsonObservation(obs); obj != nil {
			oid, okID := obj["order_id"].(string)
			status, okStatus := obj["status"].(string)
			if okID && okStatus {
				a.lastOrderStatus[oid] = status
			}
		}
	}
}

func (a *analyzer) checkAirline(i int, tool string, call map[string]any, obs string) {
	switch tool {
	case "cancel_reservation":
		// Cancellation is allowed within 24h of booking, for airline
		// cancellations, in business cabin, or with insurance covering
		// a health or weather reason. A plain change of plans outside
		// the 24h window satisfies none of those.
		w24Known := a.hasCreated && a.hasNow
		w24 := w24Known && within24h(a.createdAt, a.now)
		cabinLow := strings.ToLower(a.cabin)
		covered := strings.ToLower(a.insurance) == "yes" &&
			(a.reason == "health" || a.reason == "weather")
		if a.reason == "change_of_plans" && w24Known && !w24 && cabinLow != "business" && !covered {
			why := fmt.Sprintf(
				"Cancellation succeeded despite change_of_plans with created_at>24h (within_24h=false), cabin=%s, insurance=%s (covered_by_insurance=%t).",
				a.cabin, a.insurance, covered)
			a.flag(KindAirlineCancelPolicy, i, tool, why, call, obs)
		}
	case "update_reservation_flights":
		if strings.ToLower(a.cabin) == "basic_economy" {
			a.flag(KindAirlineBasicEconomy, i, tool,
				"Reservation cabin is basic_economy but update_reservation_flights succeeded (policy: basic economy flights cannot be modified).",
				call, obs)
		}
	}
}

func (a *analyzer) checkTelecom(i int, tool string, call, args map[string]any, obs string) {
	switch tool {
	case "refuel_data":
		num, ok := args["gb_amount"].(json.Number)
		if !ok {
			return
		}
		gb, err := num.Float64()
		if err != nil || gb <= 2.0 {
			return
		}
		why := fmt.Sprintf("Data refuel of %sGB exceeds 2GB max but observation is success-like.", num.String())
		a.flag(KindTelecomRefuelOver2GB, i, tool, why, call, obs)

	case "suspend_line":
		status := findLineStatusBefore(a.turns, i)
		if status != "" && strings.ToLower(status) == "suspended" {
			a.flag(KindTelecomSuspendSuspended, i, tool,
				"Line status was already Suspended but suspend_line succeeded.", call, obs)
		}

	case "resume_line":
		end := findContractEndBefore(a.turns, i)
		if end == "" || !a.hasNow {
			return
		}
		contractEnd, err := time.Parse("2006-01-02", end)
		if err != nil {
			return
		}
		nowNaive := a.now.t
		if a.now.zoned {
			nowNaive = stripZone(nowNaive)
		}
		if contractEnd.Before(nowNaive) {
			why := fmt.Sprintf("Contract end date %s is in the past but resume_line succeeded.", end)
			a.flag(KindTelecomResumeExpired, i, tool, why, call, obs)
		}

	case "send_payment_request":
		billID, _ := args["bill_id"].(string)
		if billID == "" {
			return
		}
		status := findBillStatusBefore(a.turns, i, billID)
		if status == "" {
			return
		}
		switch strings.ToLower(status) {
		case "paid":
			why := fmt.Sprintf("Bill %s status was Paid but send_payment_request succeeded.", billID)
			a.flag(KindTelecomPaymentPaid, i, tool, why, call, obs)
		case "overdue":
		default:
			why := fmt.Sprintf("Bill %s status was %s (not Overdue) but send_payment_request succeeded.", billID, status)
			a.flag(KindTelecomPaymentNotOverdue, i, tool, why, call, obs)
		}
	}
}

func (a *analyzer) checkSchema(i int, tool string, call map[string]any, obs string) {
	problems := validateCallSchema(call, a.schemas)
	if len(problems) == 0 {
		return
	}
	why := fmt.Sprintf("Tool call has schema issues [%s] but observation is success-like.", strings.Join(problems, ", "))
	a.flag(KindSchemaForgiveness, i, tool, why, call, obs)
}

func (a *analyzer) checkExtraArgs(i int, tool string, call, args map[string]any, obs string) {
	extras := extraArgKeys(tool, args, a.schemas)
	if len(extras) == 0 {
		return
	}
	why := fmt.Sprintf("Tool call has extra arg keys [%s] but observation is success-like.", strings.Join(extras, ", "))
	a.flag(KindExtraArgsForgiveness, i, tool, why, call, obs)
}

func (a *analyzer) checkCrossUser(i int, tool string, call, args map[string]any, obs string) {
	if !a.oneUser || a.authedUser == "" {
		return
	}
	calledUser, _ := args["user_id"].(string)
	if calledUser == "" || calledUser == a.authedUser {
		return
	}
	why := fmt.Sprintf("Called user_id=%s differs from authed_user=%s but observation is success-like.", calledUser, a.authedUser)
	a.flag(KindCrossUserSuccess, i, tool, why, call, obs)
}

func (a *analyzer) checkOrderGating(i int, tool string, call, args map[string]any, obs string) {
	orderID, _ := args["order_id"].(string)
	if orderID == "" {
		return
	}
	status, known := a.lastOrderStatus[orderID]
	if !known {
		return
	}
	if pendingOnlyTools[tool] && status != "pending" {
		why := fmt.Sprintf("Order status=%s but tool requires pending; observation is success-like.", status)
		a.flag(KindPendingDeliveredGating, i, tool, why, call, obs)
	}
	if deliveredOnlyTools[tool] && status != "delivered" {
		why := fmt.Sprintf("Order status=%s but tool requires delivered; observation is success-like.", status)
		a.flag(KindPendingDeliveredGating, i, tool, why, call, obs)
	}
}

func (a *analyzer) flag(kind string, turnIdx int, tool, why string, call map[string]any, obs string) {
	a.flags = append(a.flags, Finding{
		Mode:                a.mode,
		ConvIdx:             a.convIdx,
		Kind:                kind,
		TurnIdx:             turnIdx,
		ToolName:            tool,
		Why:                 why,
		EvidenceCall:        call,
		EvidenceObservation: snippet(obs),
	})
}

// validateCallSchema runs the minimal schema checks: known tool, object
// arguments, required keys present, declared primitive types matched.
// Each problem is a compact token quoted in the finding's why text.
func validateCallSchema(call map[string]any, schemas map[string]toolcheck.Schema) []string {
	name, _ := call["name"].(string)
	if name == "" {
		return []string{"missing_tool_name"}
	}
	schema, ok := schemas[name]
	if !ok {
		return []string{"unknown_tool:" + name}
	}
	args, ok := call["arguments"].(map[string]any)
	if !ok {
		return []string{"arguments_not_object"}
	}
	var problems []string
	for _, req := range schema.Parameters.Required {
		if _, ok := args[req]; !ok {
			problems = append(problems, "missing_required:"+req)
		}
	}
	for _, k := range sortedKeys(args) {
		prop, ok := schema.Parameters.Properties[k]
		if !ok || prop.Type == "" {
			continue
		}
		if !typeMatches(args[k], prop.Type) {
			problems = append(problems, fmt.Sprintf("type_mismatch:%s:expected_%s:got_%s", k, prop.Type, typeName(args[k])))
		}
	}
	return problems
}

// extraArgKeys lists argument keys the schema does not declare. Tools
// without declared properties report nothing.
func extraArgKeys(tool string, args map[string]any, schemas map[string]toolcheck.Schema) []string {
	schema, ok := schemas[tool]
	if !ok || args == nil {
		return nil
	}
	props := schema.Parameters.Properties
	if len(props) == 0 {
		return nil
	}
	var extras []string
	for _, k := range sortedKeys(args) {
		if _, ok := props[k]; !ok {
			extras = append(extras, k)
		}
	}
	return extras
}

// typeMatches checks a decoded value against a declared JSON type.
// Unknown declarations pass; "integer" requires the literal to parse as
// an int64 so 5.0 does not count.
func typeMatches(v any, declared string) bool {
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		_, err := n.Int64()
		return err == nil
	case "number":
		_, ok := v.(json.Number)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func typeName(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "unknown"
}

// parseTools decodes the record's tools field, which is usually a
// JSON-encoded string holding the list and occasionally the list itself.
// Undecodable tools yield an empty map, so every call then counts as an
// unknown tool.
func parseTools(raw json.RawMessage) map[string]toolcheck.Schema {
	schemas, err := toolcheck.ParseSchemas(ToolsText(raw))
	if err != nil {
		return map[string]toolcheck.Schema{}
	}
	return schemas
}

// ToolsText unwraps a string-encoded tools field; anything else passes
// through verbatim.
func ToolsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// jsonObservation decodes an observation only when it is a JSON object.
func jsonObservation(obs string) map[string]any {
	if !strings.HasPrefix(obs, "{") {
		return nil
	}
	return decodeObject(obs)
}

// firstTruthy returns the first listed key whose value is present and
// non-empty.
func firstTruthy(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && truthy(v) {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func uniqueKinds(flags []Finding) []string {
	seen := map[string]bool{}
	kinds := []string{}
	for _, f := range flags {
		if !seen[f.Kind] {
			seen[f.Kind] = true
			kinds = append(kinds, f.Kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}

func capScore(total int) int {
	if total > 100 {
		return 100
	}
	if total < 0 {
		return 0
	}
	return total
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
