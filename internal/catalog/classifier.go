package catalog

import "strings"

// Stage identifiers shared by both workflow types.
const (
	StageLeadAcquisition = "LEAD_ACQUISITION"
	StageQuotation       = "QUOTATION"
	StageProcurement     = "PROCUREMENT"
	StageFulfillment     = "FULFILLMENT"
	StageFinalization    = "FINALIZATION"
	StageCancelled       = "CANCELLED"
	StageOnHold          = "ON_HOLD"
)

// statusStage maps a workflow status code to the stage it belongs to.
// Codes not listed here fall back to lead acquisition.
var statusStage = map[string]string{
	"NEW_LEAD":                       StageLeadAcquisition,
	"QUOTE_REQUESTED":                StageLeadAcquisition,
	"SITE_VISIT_SCHEDULED":           StageLeadAcquisition,
	"SITE_VISIT_COMPLETED":           StageLeadAcquisition,
	"DETAILED_MEASUREMENT_SCHEDULED": StageLeadAcquisition,
	"DETAILED_MEASUREMENT_COMPLETED": StageLeadAcquisition,

	"QUOTE_PREPARED": StageQuotation,
	"QUOTE_SENT":     StageQuotation,
	"QUOTE_APPROVED": StageQuotation,
	"QUOTE_ACCEPTED": StageQuotation,

	"WORK_ORDER_SENT":       StageProcurement,
	"WORK_ORDER_SIGNED":     StageProcurement,
	"MATERIALS_ORDERED":     StageProcurement,
	"MATERIALS_RECEIVED":    StageProcurement,
	"MATERIALS_BACKORDERED": StageProcurement,
	"WORK_ORDER_CREATED":    StageProcurement,
	"DEPOSIT_REQUESTED":     StageProcurement,
	"DEPOSIT_RECEIVED":      StageProcurement,
	"DEPOSIT_PENDING":       StageProcurement,
	"DETAILED_MEASUREMENT":  StageProcurement,
	"PO_CREATED":            StageProcurement,
	"PO_SENT":               StageProcurement,
	"SUPPLIER_CONFIRMED":    StageProcurement,

	"DELIVERY_SCHEDULED":       StageFulfillment,
	"DELIVERY_COMPLETED":       StageFulfillment,
	"DELIVERED":                StageFulfillment,
	"INSTALLATION_SCHEDULED":   StageFulfillment,
	"INSTALLATION_IN_PROGRESS": StageFulfillment,
	"INSTALLATION_COMPLETED":   StageFulfillment,
	"DELIVERY_DELAYED":         StageFulfillment,
	"INSTALLATION_DELAYED":     StageFulfillment,
	"INSTALLATION_READY":       StageFulfillment,
	"FINAL_INSPECTION":         StageFulfillment,
	"PARTIAL_RECEIVED":         StageFulfillment,
	"CUSTOMER_NOTIFIED":        StageFulfillment,
	"READY_FOR_PICKUP":         StageFulfillment,
	"IN_TRANSIT":               StageFulfillment,

	"PAYMENT_RECEIVED":      StageFinalization,
	"ORDER_COMPLETED":       StageFinalization,
	"COMPLETED":             StageFinalization,
	"FOLLOW_UP_SCHEDULED":   StageFinalization,
	"FOLLOW_UP_SENT":        StageFinalization,
	"INVOICE_SENT":          StageFinalization,
	"REVIEW_REQUESTED":      StageFinalization,
	"PENDING_FINAL_PAYMENT": StageFinalization,

	"ORDER_CANCELLED": StageCancelled,
	"QUOTE_REJECTED":  StageCancelled,

	"CUSTOMER_COMMUNICATION_NEEDED": StageOnHold,
	"AWAITING_CUSTOMER_APPROVAL":    StageOnHold,
	"CHANGE_ORDER_REQUESTED":        StageOnHold,
	"PAYMENT_PENDING":               StageOnHold,
}

// ClassifyStatus returns the stage id for a workflow status code. The
// lookup is case-insensitive and total: an empty or unrecognized code
// classifies as lead acquisition so timeline rendering never stalls on
// a status the backend invented after this table was written.
func ClassifyStatus(statusID string) string {
	if statusID == "" {
		return StageLeadAcquisition
	}
	if stage, ok := statusStage[strings.ToUpper(statusID)]; ok {
		return stage
	}
	return StageLeadAcquisition
}

// KnownStatus reports whether the status code is in the classification table.
func KnownStatus(statusID string) bool {
	_, ok := statusStage[strings.ToUpper(statusID)]
	return ok
}
