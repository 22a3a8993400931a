package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Format identifies the imaging format of a staged series.
type Format string

// Supported series formats.
const (
	FormatDICOM   Format = "dicom"
	FormatNIfTI   Format = "nifti"
	FormatNIfTIGz Format = "nifti-gz"
	FormatZIP     Format = "zip"
)

var formatExtensions = map[Format]string{
	FormatDICOM:   ".dcm",
	FormatNIfTI:   ".nii",
	FormatNIfTIGz: ".nii.gz",
	FormatZIP:     ".zip",
}

// ParseFormat parses a format name. An empty name means DICOM.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatDICOM, nil
	}

	f := Format(s)
	if _, ok := formatExtensions[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// Extension returns the file extension of staged files in this format.
func (f Format) Extension() string {
	if ext, ok := formatExtensions[f]; ok {
		return ext
	}
	return formatExtensions[FormatDICOM]
}

// Staged file naming.
const (
	StagedFilePrefix = "I"
	StagedFileWidth  = 5
)

// StagedFileName returns the name of the file fetched at the given 1-based index.
func StagedFileName(index int, ext string) string {
	return fmt.Sprintf("%s%0*d%s", StagedFilePrefix, StagedFileWidth, index, ext)
}

// DownloadRequest is an ordered list of remote locators forming one series.
type DownloadRequest struct {
	Locators []string
	Format   Format
}

// Extension returns the extension expected for every staged file.
func (r DownloadRequest) Extension() string {
	return r.Format.Extension()
}

// ExpectedFiles returns the number of files the staging directory must hold.
func (r DownloadRequest) ExpectedFiles() int {
	return len(r.Locators)
}

// Validate checks the request before any work is started. An empty
// request is valid.
func (r DownloadRequest) Validate() error {
	if _, err := ParseFormat(string(r.Format)); err != nil {
		return err
	}
	for i, l := range r.Locators {
		if strings.TrimSpace(l) == "" {
			return &ValidationError{
				Field:      fmt.Sprintf("locators[%d]", i),
				Value:      l,
				Constraint: "non-empty",
				Message:    "locator must not be empty",
			}
		}
	}
	return nil
}

// StagedFile is one fetched artifact in a staging directory.
type StagedFile struct {
	Index int    // 1-based position in the request
	Name  string // File name inside the staging directory
	Size  int64  // Bytes written
}

// Ready reports whether the file is non-empty.
func (f StagedFile) Ready() bool {
	return f.Size > 0
}

// ResolveLocator turns a locator into an absolute URL. Locators without a
// scheme (backend media paths such as "/media/dicoms/x.dcm") are joined to
// baseURL.
func ResolveLocator(baseURL, locator string) (*url.URL, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, &ValidationError{
			Field:      "locator",
			Value:      locator,
			Constraint: "non-empty",
			Message:    "locator must not be empty",
		}
	}

	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}

	if u.Scheme == "" {
		if baseURL == "" {
			return nil, fmt.Errorf("%w: relative locator %q without base URL", ErrInvalidLocator, locator)
		}
		joined := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(locator, "/")
		u, err = url.Parse(joined)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
		}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}
