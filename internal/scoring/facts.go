package scoring

import (
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/tauforge/internal/dialogue"
)

// Policy-text markers that pick the domain rule set and the cross-user
// constraint.
const (
	airlinePolicyMarker = "# Airline Agent Policy"
	telecomPolicyMarker = "# Telecom Agent Policy"
	oneUserClause       = "You can only help one user per conversation"
)

var currentTimeRE = regexp.MustCompile(`(?i)The current time is\s+(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2})\s*(EST|EDT)?`)

// wallTime is a timestamp that remembers whether its source carried a
// timezone. Mixed comparisons fall back to wall-clock arithmetic, the
// same way naive datetimes compare.
type wallTime struct {
	t     time.Time
	zoned bool
}

// parseCurrentTime extracts "The current time is 2024-05-15 15:00:00 EST"
// from the system text. EST and EDT map to fixed UTC-5/UTC-4 offsets; a
// missing zone yields an unzoned wall time.
func parseCurrentTime(system string) (wallTime, bool) {
	m := currentTimeRE.FindStringSubmatch(system)
	if m == nil {
		return wallTime{}, false
	}
	t, err := time.Parse("2006-01-02 15:04:05", m[1]+" "+m[2])
	if err != nil {
		return wallTime{}, false
	}
	switch strings.ToUpper(m[3]) {
	case "EST":
		return wallTime{t: rezone(t, time.FixedZone("EST", -5*3600)), zoned: true}, true
	case "EDT":
		return wallTime{t: rezone(t, time.FixedZone("EDT", -4*3600)), zoned: true}, true
	}
	return wallTime{t: t}, true
}

// parseISODateTime handles the timestamp forms reservation records use:
// "2024-05-10T14:32:17" with or without an offset, a space separator, or
// a bare date.
func parseISODateTime(s string) (wallTime, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return wallTime{t: t, zoned: true}, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return wallTime{t: t}, true
		}
	}
	return wallTime{}, false
}

// rezone reinterprets t's wall-clock reading in loc.
func rezone(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// stripZone drops the zone and keeps the wall-clock reading.
func stripZone(t time.Time) time.Time {
	return rezone(t, time.UTC)
}

// within24h reports whether now is at most 24 hours after created. When
// exactly one side is zoned both collapse to wall-clock times first.
func within24h(created, now wallTime) bool {
	a, b := created.t, now.t
	if created.zoned != now.zoned {
		a = stripZone(a)
		b = stripZone(b)
	}
	return b.Sub(a) <= 24*time.Hour
}

// normalizeReason maps free-text cancellation wording onto the policy
// categories. Empty means no recognizable reason.
func normalizeReason(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "change of plan"):
		return "change_of_plans"
	case strings.Contains(t, "airline cancel"), strings.Contains(t, "cancelled by airline"), strings.Contains(t, "canceled by airline"):
		return "airline_cancelled"
	case strings.Contains(t, "weather"):
		return "weather"
	case strings.Contains(t, "health"), strings.Contains(t, "medical"), strings.Contains(t, "sick"):
		return "health"
	}
	return ""
}

// findCancellationReason returns the first recognizable reason stated in
// a human turn.
func findCancellationReason(turns []dialogue.Turn) string {
	for _, t := range turns {
		if t.From != dialogue.RoleHuman {
			continue
		}
		if r := normalizeReason(t.Value); r != "" {
			return r
		}
	}
	return ""
}

// findLatestReservationDetails returns the most recent JSON observation
// answering a get_reservation_details call, or nil.
func findLatestReservationDetails(turns []dialogue.Turn) map[string]any {
	var latest map[string]any
	for i := 0; i+1 < len(turns); i++ {
		if turns[i].From != dialogue.RoleFunctionCall {
			continue
		}
		call := extractJSONObject(turns[i].Value)
		if call == nil {
			continue
		}
		if name, _ := call["name"].(string); name != "get_reservation_details" {
			continue
		}
		if turns[i+1].From != dialogue.RoleObservation {
			continue
		}
		if obj := decodeObject(strings.TrimSpace(turns[i+1].Value)); obj != nil {
			latest = obj
		}
	}
	return latest
}

// findLineStatusBefore walks backwards from idx for the most recent line
// lookup observation (an object with both line_id and status) and
// returns its status.
func findLineStatusBefore(turns []dialogue.Turn, idx int) string {
	for i := idx - 1; i >= 0; i-- {
		if turns[i].From != dialogue.RoleObservation {
			continue
		}
		obj := decodeObject(strings.TrimSpace(turns[i].Value))
		if obj == nil {
			continue
		}
		if _, hasLine := obj["line_id"]; !hasLine {
			continue
		}
		if _, hasStatus := obj["status"]; !hasStatus {
			continue
		}
		status, _ := obj["status"].(string)
		return status
	}
	return ""
}

// findBillStatusBefore walks backwards from idx for the most recent
// status of the given bill, checking both direct bill lookups and bills
// list responses.
func findBillStatusBefore(turns []dialogue.Turn, idx int, billID string) string {
	for i := idx - 1; i >= 0; i-- {
		if turns[i].From != dialogue.RoleObservation {
			continue
		}
		obj := decodeObject(strings.TrimSpace(turns[i].Value))
		if obj == nil {
			continue
		}
		if id, _ := obj["bill_id"].(string); id == billID && id != "" {
			if _, ok := obj["status"]; ok {
				status, _ := obj["status"].(string)
				return status
			}
		}
		bills, _ := obj["bills"].([]any)
		for _, entry := range bills {
			b, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if id, _ := b["bill_id"].(string); id != billID || id == "" {
				continue
			}
			if _, ok := b["status"]; ok {
				status, _ := b["status"].(string)
				return status
			}
		}
	}
	return ""
}

// findContractEndBefore walks backwards from idx for the most recent
// observation carrying contract_end_date.
func findContractEndBefore(turns []dialogue.Turn, idx int) string {
	for i := idx - 1; i >= 0; i-- {
		if turns[i].From != dialogue.RoleObservation {
			continue
		}
		obj := decodeObject(strings.TrimSpace(turns[i].Value))
		if obj == nil {
			continue
		}
		if _, ok := obj["contract_end_date"]; ok {
			end, _ := obj["contract_end_date"].(string)
			return end
		}
	}
	return ""
}
