package upload

import (
	"fmt"
	"regexp"
	"strings"
)

// Policy holds the rules a candidate file set is checked against.
// Empty allow-lists allow everything for that dimension.
type Policy struct {
	MaxFileCount        int
	MaxFileSizeBytes    int64
	EnforceMaxFileSize  bool
	AllowedMimePatterns []*regexp.Regexp
	AllowedExtensions   []string
}

// NewPolicy builds a Policy from options, compiling the mime patterns
func NewPolicy(opts Options) (*Policy, error) {
	p := &Policy{
		MaxFileCount:       opts.MaxFiles,
		MaxFileSizeBytes:   opts.MaxFileSize,
		EnforceMaxFileSize: opts.EnforceMaxFileSize,
	}

	for _, pattern := range opts.AllowedTypes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed type pattern %q: %w", pattern, err)
		}
		p.AllowedMimePatterns = append(p.AllowedMimePatterns, re)
	}

	for _, ext := range opts.AllowedExtensions {
		if ext = strings.TrimSpace(ext); ext != "" {
			p.AllowedExtensions = append(p.AllowedExtensions, strings.ToLower(ext))
		}
	}

	return p, nil
}

func (p *Policy) typeAllowed(f File) bool {
	mimeType := f.MimeType()
	if mimeType == "" {
		return false
	}
	for _, re := range p.AllowedMimePatterns {
		if re.MatchString(mimeType) {
			return true
		}
	}
	return false
}

func (p *Policy) extensionAllowed(f File) bool {
	name := strings.ToLower(f.Name())
	if name == "" {
		return false
	}
	for _, ext := range p.AllowedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Validate filters files against policy. Every rejection is passed to
// report before Validate returns. A nil slice means the file list could
// not be read at all; an empty one is a no-op and returns (nil, nil).
//
// Fatal outcomes (unreadable list, too many files, nothing left after
// filtering) are reported once and returned as an *Error.
func Validate(files []File, policy *Policy, report func(error)) ([]File, error) {
	if report == nil {
		report = func(error) {}
	}
	if policy == nil {
		policy = &Policy{}
	}

	fail := func(err *Error) ([]File, error) {
		report(err)
		return nil, err
	}

	if files == nil {
		return fail(NewError(KindBrowserNotSupported, nil, nil))
	}
	if len(files) == 0 {
		return nil, nil
	}
	if err := policy.checkCount(len(files)); err != nil {
		return fail(err)
	}

	accepted := append([]File(nil), files...)
	rejected := 0

	filter := func(keep func(File) bool, kind Kind) {
		kept := accepted[:0]
		for _, f := range accepted {
			if keep(f) {
				kept = append(kept, f)
				continue
			}
			rejected++
			report(NewError(kind, f, nil))
		}
		accepted = kept
	}

	if policy.EnforceMaxFileSize && policy.MaxFileSizeBytes > 0 {
		filter(func(f File) bool { return f.Size() <= policy.MaxFileSizeBytes }, KindFileTooLarge)
	}
	if len(policy.AllowedMimePatterns) > 0 {
		filter(policy.typeAllowed, KindFileTypeNotAllowed)
	}
	if len(policy.AllowedExtensions) > 0 {
		filter(policy.extensionAllowed, KindFileExtensionNotAllowed)
	}

	if len(accepted) == 0 && rejected > 0 {
		return fail(NewError(KindNotFound, nil, fmt.Errorf("all %d files were rejected", rejected)))
	}

	return accepted, nil
}

// checkCount rejects n files when MaxFileCount is set and n exceeds it.
// A zero MaxFileCount means no limit.
func (p *Policy) checkCount(n int) *Error {
	if p.MaxFileCount > 0 && n > p.MaxFileCount {
		return NewError(KindTooManyFiles, nil, fmt.Errorf("%d files exceed the limit of %d", n, p.MaxFileCount))
	}
	return nil
}
