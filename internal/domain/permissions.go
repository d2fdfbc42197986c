package domain

// Permission ids checked by the gateway and resolved per identity.
const (
	PermLeadCreate       = "lead.create"
	PermLeadReadAll      = "lead.read.all"
	PermLeadStatusChange = "lead.status.change"
	PermLeadAssign       = "lead.assign"
	PermLeadDelete       = "lead.delete"
	PermQuoteEdit        = "quote.edit"
	PermQuoteSubmit      = "quote.submit"
	PermQuoteApprove     = "quote.approve"
	PermQuoteReject      = "quote.reject"
	PermQuoteSend        = "quote.send"
	PermOrderConfirm     = "order.confirm"
	PermRBACManage       = "rbac.manage"
	PermEventsRead       = "events.read"
)

// Permissions lists every known permission id.
func Permissions() []string {
	return []string{
		PermLeadCreate, PermLeadReadAll, PermLeadStatusChange, PermLeadAssign, PermLeadDelete,
		PermQuoteEdit, PermQuoteSubmit, PermQuoteApprove, PermQuoteReject, PermQuoteSend,
		PermOrderConfirm, PermRBACManage, PermEventsRead,
	}
}

func KnownPermission(p string) bool {
	for _, known := range Permissions() {
		if known == p {
			return true
		}
	}
	return false
}
