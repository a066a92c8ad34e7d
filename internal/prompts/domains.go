package prompts

// domainSpec carries the template pieces that vary by seed domain.
type domainSpec struct {
	formatHeader string
	compliance   string
	prohibitions []string
}

// specFor returns the template pieces for a domain. Unknown domains get
// the generic template: plain header, no compliance section.
func specFor(domain string) domainSpec {
	if spec, ok := domainSpecs[domain]; ok {
		return spec
	}
	return domainSpec{formatHeader: formatHeaderPlain}
}

const (
	formatHeaderPlain  = "CRITICAL FORMAT PRESERVATION REQUIREMENTS:"
	formatHeaderStrict = "CRITICAL FORMAT PRESERVATION REQUIREMENTS - ABSOLUTE COMPLIANCE:"
)

var domainSpecs = map[string]domainSpec{
	"retail": {
		formatHeader: formatHeaderPlain,
		compliance:   retailCompliance,
	},
	"airline": {
		formatHeader: formatHeaderStrict,
		compliance:   airlineCompliance,
		prohibitions: []string{
			"- DO NOT attempt cancellations/refunds beyond 24 hours or for Basic Economy",
			"- DO NOT skip policy validation steps or tool call sequences",
		},
	},
	"telecom": {
		formatHeader: formatHeaderStrict,
		compliance:   telecomCompliance,
		prohibitions: []string{
			"- DO NOT skip diagnostic/troubleshooting steps or perform actions the agent cannot do (e.g., directly fixing user device settings)",
			"- DO NOT refuel data beyond the 2GB maximum or resume lines with expired contracts",
		},
	},
}

const retailCompliance = `## CRITICAL RETAIL COMPLIANCE RULES:
1. **ALWAYS COMMUNICATE KEY NUMBERS**: State final total price, refund amount, tracking numbers, and price differences explicitly to user
2. **ORDER STATUS MATCHING**: Use pending tools for pending orders, delivered tools for delivered orders - NEVER mix them
3. **ID FORMAT CONSISTENCY**: When generating IDs (order IDs, item IDs, payment method IDs, user IDs), carefully observe the format and pattern used in the example trajectory and generate IDs that follow the same style. Avoid obvious fake patterns like "112233", "123456", etc. Use varied, realistic-looking combinations similar to those in the sample.`

const airlineCompliance = `## AIRLINE POLICY COMPLIANCE REQUIREMENTS:
1. **CANCELLATION/REFUND POLICY VALIDATION**:
   - ALWAYS check created_at timestamp - NO cancellation if >24 hours
   - Basic Economy tickets are NON-REFUNDABLE and NON-CHANGEABLE
   - Verify insurance coverage BEFORE processing refunds
   - NO cancellation if ANY flight segment has already been flown
2. **CHANGE/UPGRADE POLICY VALIDATION**:
   - Basic Economy tickets CANNOT be changed or upgraded
   - NO simultaneous cabin change + flight change in single call
   - Destination changes are NOT allowed (only time/date changes)
   - Segment-level upgrades are prohibited
3. **ID FORMAT CONSISTENCY**: When generating IDs (reservation IDs, user IDs, flight numbers, payment method IDs), carefully observe the format and pattern used in the example trajectory and generate IDs that follow the same style. Avoid obvious fake patterns like "112233", "ABC123", etc. Use varied, realistic-looking combinations similar to those in the sample.`

const telecomCompliance = `## TELECOM COMPLIANCE RULES:
1. **CUSTOMER IDENTITY VERIFICATION**: ALWAYS verify customer identity (via phone number, customer ID, or name+DOB) before any write operation (suspend, resume, refuel, enable/disable roaming, send payment request)
2. **LINE STATUS GATING**: Line must be Active for suspension; Suspended or Pending Activation for resumption. Do NOT suspend an already-suspended line or resume an already-active line.
3. **BILL PAYMENT CONSTRAINTS**: Only ONE bill in AWAITING_PAYMENT per customer at a time. ALWAYS check bill status is Overdue before sending payment request.
4. **DATA REFUELING LIMITS**: Maximum 2GB per refuel transaction. Do NOT refuel more than 2GB.
5. **TECH SUPPORT WORKFLOW**: Follow diagnostic steps sequentially - don't skip steps. Agent cannot directly fix user-side issues; must instruct user to perform actions on their device.
6. **SUSPENSION POLICY**: Cannot lift suspension if contract end date is in the past, even if bills are paid.
7. **TRANSFER POLICY**: Transfer to human only when explicitly requested by user OR tools are insufficient after exhausting troubleshooting steps.
8. **ID FORMAT CONSISTENCY**: Customer IDs follow "C####" format, Line IDs follow "L####" format, Bill IDs follow "B####" format, Plan IDs follow "P####" format, Device IDs follow "D####" format.`
