package domain

// Status is the lifecycle state of a job. The string values are persisted.
type Status string

// Job status constants
const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is allowed.
// Status only moves forward: queued -> in progress -> completed | error.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

// OperationType tags the conversion a job asks for
type OperationType string

// Supported operations
const (
	OpWordToPdf       OperationType = "WordToPdf"
	OpExcelToPdf      OperationType = "ExcelToPdf"
	OpPowerPointToPdf OperationType = "PowerPointToPdf"
	OpHtmlToPdf       OperationType = "HtmlToPdf"
	OpMergePdf        OperationType = "MergePdf"
	OpSplitPdf        OperationType = "SplitPdf"
	OpRotatePdf       OperationType = "RotatePdf"
	OpDeletePdf       OperationType = "DeletePdf"
	OpCompressPdf     OperationType = "CompressPdf"
	OpFlattenPdf      OperationType = "FlattenPdf"
)

// OperationTypes lists every supported operation
var OperationTypes = []OperationType{
	OpWordToPdf,
	OpExcelToPdf,
	OpPowerPointToPdf,
	OpHtmlToPdf,
	OpMergePdf,
	OpSplitPdf,
	OpRotatePdf,
	OpDeletePdf,
	OpCompressPdf,
	OpFlattenPdf,
}

// Valid reports whether op is part of the closed operation set
func (op OperationType) Valid() bool {
	for _, known := range OperationTypes {
		if op == known {
			return true
		}
	}
	return false
}
