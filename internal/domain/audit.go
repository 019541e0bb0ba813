package domain

import "context"

// AuditEntry records a permission decision or tool execution.
type AuditEntry struct {
	Tool   string
	Action string // tool_exec | confirm_once | confirm_always | confirm_deny
	Detail string
}

// AuditLogger is implemented by stores that persist audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
