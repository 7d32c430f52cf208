package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// Settings is the decoded payload of one operation. The set of variants is
// closed: only types in this package can satisfy it.
type Settings interface {
	Operation() domain.OperationType
	Namespace() string
	Inputs() []string
	validate() error
	bind(namespace string)
}

// Target carries the artifact namespace every operation reads from and writes to
type Target struct {
	JobID string `json:"job_id"`
}

// Namespace returns the artifact namespace, which is the job ID
func (t *Target) Namespace() string { return t.JobID }

func (t *Target) bind(namespace string) { t.JobID = namespace }

// PageRange is an inclusive, 1-based page interval
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type WordToPdfSettings struct {
	Target
	File                string `json:"file"`
	Password            string `json:"password,omitempty"`
	PreserveFormFields  *bool  `json:"preserve_form_fields,omitempty"`
	PdfCompliance       string `json:"pdf_compliance,omitempty"`
	EnableAccessibility *bool  `json:"enable_accessibility,omitempty"`
}

func (s *WordToPdfSettings) Operation() domain.OperationType { return domain.OpWordToPdf }
func (s *WordToPdfSettings) Inputs() []string                { return []string{s.File} }
func (s *WordToPdfSettings) validate() error                 { return requireFile(s.File) }

type ExcelToPdfSettings struct {
	Target
	File          string `json:"file"`
	Password      string `json:"password,omitempty"`
	PdfCompliance string `json:"pdf_compliance,omitempty"`
}

func (s *ExcelToPdfSettings) Operation() domain.OperationType { return domain.OpExcelToPdf }
func (s *ExcelToPdfSettings) Inputs() []string                { return []string{s.File} }
func (s *ExcelToPdfSettings) validate() error                 { return requireFile(s.File) }

type PowerPointToPdfSettings struct {
	Target
	File                string `json:"file"`
	Password            string `json:"password,omitempty"`
	PdfCompliance       string `json:"pdf_compliance,omitempty"`
	EnableAccessibility *bool  `json:"enable_accessibility,omitempty"`
}

func (s *PowerPointToPdfSettings) Operation() domain.OperationType { return domain.OpPowerPointToPdf }
func (s *PowerPointToPdfSettings) Inputs() []string                { return []string{s.File} }
func (s *PowerPointToPdfSettings) validate() error                 { return requireFile(s.File) }

// HtmlToPdfSettings renders either an uploaded index file with its assets or a remote URL
type HtmlToPdfSettings struct {
	Target
	IndexFile       string   `json:"index_file,omitempty"`
	URL             string   `json:"url,omitempty"`
	Assets          []string `json:"assets,omitempty"`
	Margin          *int     `json:"margin,omitempty"`
	AdditionalDelay *int     `json:"additional_delay,omitempty"`
	ViewPortWidth   *int     `json:"view_port_width,omitempty"`
}

func (s *HtmlToPdfSettings) Operation() domain.OperationType { return domain.OpHtmlToPdf }

func (s *HtmlToPdfSettings) Inputs() []string {
	if s.IndexFile == "" {
		return nil
	}
	return append([]string{s.IndexFile}, s.Assets...)
}

func (s *HtmlToPdfSettings) validate() error {
	if s.IndexFile == "" && s.URL == "" {
		return fmt.Errorf("%w: index_file or url is required", domain.ErrInvalidPayload)
	}
	if s.IndexFile != "" && s.URL != "" {
		return fmt.Errorf("%w: index_file and url are mutually exclusive", domain.ErrInvalidPayload)
	}
	for _, name := range s.Inputs() {
		if err := checkFileName(name); err != nil {
			return err
		}
	}
	return nil
}

// MergeFile is one input of a merge, with its own password
type MergeFile struct {
	File     string `json:"file"`
	Password string `json:"password,omitempty"`
}

type MergePdfSettings struct {
	Target
	Files             []MergeFile `json:"files"`
	PreserveBookmarks *bool       `json:"preserve_bookmarks,omitempty"`
}

func (s *MergePdfSettings) Operation() domain.OperationType { return domain.OpMergePdf }

func (s *MergePdfSettings) Inputs() []string {
	names := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		names = append(names, f.File)
	}
	return names
}

func (s *MergePdfSettings) validate() error {
	if len(s.Files) < 2 {
		return fmt.Errorf("%w: merge needs at least two files", domain.ErrInvalidPayload)
	}
	for _, f := range s.Files {
		if err := requireFile(f.File); err != nil {
			return err
		}
	}
	return nil
}

// SplitOption picks exactly one way of splitting
type SplitOption struct {
	FileCount  int         `json:"file_count,omitempty"`
	PageCount  int         `json:"page_count,omitempty"`
	PageRanges []PageRange `json:"page_ranges,omitempty"`
}

type SplitPdfSettings struct {
	Target
	File        string      `json:"file"`
	Password    string      `json:"password,omitempty"`
	SplitOption SplitOption `json:"split_option"`
}

func (s *SplitPdfSettings) Operation() domain.OperationType { return domain.OpSplitPdf }
func (s *SplitPdfSettings) Inputs() []string                { return []string{s.File} }

func (s *SplitPdfSettings) validate() error {
	if err := requireFile(s.File); err != nil {
		return err
	}

	chosen := 0
	if s.SplitOption.FileCount > 0 {
		chosen++
	}
	if s.SplitOption.PageCount > 0 {
		chosen++
	}
	if len(s.SplitOption.PageRanges) > 0 {
		chosen++
		if err := validateRanges(s.SplitOption.PageRanges); err != nil {
			return err
		}
	}
	if chosen != 1 {
		return fmt.Errorf("%w: exactly one of file_count, page_count or page_ranges is required", domain.ErrInvalidPayload)
	}
	return nil
}

type RotatePdfSettings struct {
	Target
	File          string      `json:"file"`
	Password      string      `json:"password,omitempty"`
	RotationAngle string      `json:"rotation_angle"`
	PageRanges    []PageRange `json:"page_ranges"`
}

func (s *RotatePdfSettings) Operation() domain.OperationType { return domain.OpRotatePdf }
func (s *RotatePdfSettings) Inputs() []string                { return []string{s.File} }

func (s *RotatePdfSettings) validate() error {
	if err := requireFile(s.File); err != nil {
		return err
	}
	switch s.RotationAngle {
	case "0", "90", "180", "270":
	default:
		return fmt.Errorf("%w: rotation angle must be 0, 90, 180, or 270", domain.ErrInvalidPayload)
	}
	if len(s.PageRanges) == 0 {
		return fmt.Errorf("%w: page_ranges is required", domain.ErrInvalidPayload)
	}
	return validateRanges(s.PageRanges)
}

type DeletePdfSettings struct {
	Target
	File       string      `json:"file"`
	Password   string      `json:"password,omitempty"`
	PageRanges []PageRange `json:"page_ranges"`
}

func (s *DeletePdfSettings) Operation() domain.OperationType { return domain.OpDeletePdf }
func (s *DeletePdfSettings) Inputs() []string                { return []string{s.File} }

func (s *DeletePdfSettings) validate() error {
	if err := requireFile(s.File); err != nil {
		return err
	}
	if len(s.PageRanges) == 0 {
		return fmt.Errorf("%w: page_ranges is required", domain.ErrInvalidPayload)
	}
	return validateRanges(s.PageRanges)
}

type CompressPdfSettings struct {
	Target
	File                 string `json:"file"`
	Password             string `json:"password,omitempty"`
	ImageQuality         *int   `json:"image_quality,omitempty"`
	OptimizeFont         *bool  `json:"optimize_font,omitempty"`
	RemoveMetadata       *bool  `json:"remove_metadata,omitempty"`
	OptimizePageContents *bool  `json:"optimize_page_contents,omitempty"`
	FlattenFormFields    *bool  `json:"flatten_form_fields,omitempty"`
	FlattenAnnotations   *bool  `json:"flatten_annotations,omitempty"`
}

func (s *CompressPdfSettings) Operation() domain.OperationType { return domain.OpCompressPdf }
func (s *CompressPdfSettings) Inputs() []string                { return []string{s.File} }

func (s *CompressPdfSettings) validate() error {
	if err := requireFile(s.File); err != nil {
		return err
	}
	if s.ImageQuality != nil && (*s.ImageQuality < 1 || *s.ImageQuality > 100) {
		return fmt.Errorf("%w: image_quality must be between 1 and 100", domain.ErrInvalidPayload)
	}
	return nil
}

type FlattenPdfSettings struct {
	Target
	File               string `json:"file"`
	Password           string `json:"password,omitempty"`
	FlattenFormFields  *bool  `json:"flatten_form_fields,omitempty"`
	FlattenAnnotations *bool  `json:"flatten_annotations,omitempty"`
}

func (s *FlattenPdfSettings) Operation() domain.OperationType { return domain.OpFlattenPdf }
func (s *FlattenPdfSettings) Inputs() []string                { return []string{s.File} }
func (s *FlattenPdfSettings) validate() error                 { return requireFile(s.File) }

var settingsFactories = map[domain.OperationType]func() Settings{
	domain.OpWordToPdf:       func() Settings { return &WordToPdfSettings{} },
	domain.OpExcelToPdf:      func() Settings { return &ExcelToPdfSettings{} },
	domain.OpPowerPointToPdf: func() Settings { return &PowerPointToPdfSettings{} },
	domain.OpHtmlToPdf:       func() Settings { return &HtmlToPdfSettings{} },
	domain.OpMergePdf:        func() Settings { return &MergePdfSettings{} },
	domain.OpSplitPdf:        func() Settings { return &SplitPdfSettings{} },
	domain.OpRotatePdf:       func() Settings { return &RotatePdfSettings{} },
	domain.OpDeletePdf:       func() Settings { return &DeletePdfSettings{} },
	domain.OpCompressPdf:     func() Settings { return &CompressPdfSettings{} },
	domain.OpFlattenPdf:      func() Settings { return &FlattenPdfSettings{} },
}

// DecodeSettings parses a job message into the settings variant for op.
// Every failure wraps domain.ErrInvalidPayload.
func DecodeSettings(op domain.OperationType, message string) (Settings, error) {
	factory, ok := settingsFactories[op]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidPayload, domain.ErrUnknownOperation, op)
	}

	raw := bytes.TrimSpace([]byte(message))
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: empty settings for %s", domain.ErrInvalidPayload, op)
	}

	settings := factory()
	if err := json.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func requireFile(name string) error {
	if name == "" {
		return fmt.Errorf("%w: file is required", domain.ErrInvalidPayload)
	}
	return checkFileName(name)
}

// checkFileName keeps input references inside the job's namespace
func checkFileName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || path.Clean(name) != name || name == ".." || name == "." {
		return fmt.Errorf("%w: invalid file name %q", domain.ErrInvalidPayload, name)
	}
	return nil
}

func validateRanges(ranges []PageRange) error {
	for _, r := range ranges {
		if r.Start < 1 || r.End < r.Start {
			return fmt.Errorf("%w: invalid page range %d-%d", domain.ErrInvalidPayload, r.Start, r.End)
		}
	}
	return nil
}
