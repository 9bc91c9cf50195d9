package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldUserID        = "user_id"
	FieldRuleID        = "rule_id"
	FieldDebtID        = "debt_id"
	FieldInstallmentID = "installment_id"
	FieldEntryID       = "entry_id"
	FieldMonth         = "month"
	FieldAsOf          = "as_of"
	FieldCreated       = "created"
	FieldSkipped       = "skipped"
	FieldFailed        = "failed"
	FieldAmount        = "amount"
	FieldDescription   = "description"
	FieldFrequency     = "frequency"
	FieldSheetsRef     = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentRecurring  = "recurring"
	ComponentProjection = "projection"
	ComponentDebt       = "debt"
	ComponentLedger     = "ledger"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentSecurity   = "security"
	ComponentRateLimit  = "rate_limit"
	ComponentTrace      = "trace"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpExecute  = "execute"
	OpPreview  = "preview"
	OpConvert  = "convert"
	OpSync     = "sync"
	OpValidate = "validate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRule adds recurrence rule fields
func (f LogFields) WithRule(userID, ruleID int64, frequency string) LogFields {
	f[FieldUserID] = userID
	f[FieldRuleID] = ruleID
	f[FieldFrequency] = frequency
	return f
}

// WithEntry adds ledger entry fields
func (f LogFields) WithEntry(entryID int64, desc, amount string) LogFields {
	f[FieldEntryID] = entryID
	f[FieldDescription] = desc
	f[FieldAmount] = amount
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	f[FieldReferer] = referer
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
