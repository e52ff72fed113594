package httpserver

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// videoMIMEs is the sniffed-content allowlist for uploads. The extension
// allowlist is configured; the content check is fixed to container types
// the pipeline can probe and render.
var videoMIMEs = map[string]struct{}{
	"video/mp4":       {},
	"video/quicktime": {},
	"video/webm":      {},
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// uploadForm carries the non-file multipart fields of POST /videos.
type uploadForm struct {
	Purpose        string `validate:"required,max=500"`
	Platform       string `validate:"required"`
	TargetAudience string `validate:"required,max=500"`
}

func parseUploadForm(r interface{ FormValue(string) string }) (domain.VideoMetadata, map[string]string) {
	form := uploadForm{
		Purpose:        strings.TrimSpace(r.FormValue("purpose")),
		Platform:       strings.TrimSpace(r.FormValue("platform")),
		TargetAudience: strings.TrimSpace(r.FormValue("target_audience")),
	}
	if err := getValidator().Struct(form); err != nil {
		details := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				details[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		return domain.VideoMetadata{}, details
	}
	platform := domain.Platform(form.Platform)
	if !domain.ValidPlatform(platform) {
		return domain.VideoMetadata{}, map[string]string{"platform": "invalid"}
	}
	return domain.VideoMetadata{
		Purpose:        form.Purpose,
		Platform:       platform,
		TargetAudience: form.TargetAudience,
	}, nil
}

// allowedExt reports whether the filename carries one of the configured
// video extensions.
func allowedExt(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext == strings.ToLower(strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

// sniffVideoMIME detects the upload's content type from its leading bytes
// and rewinds the file. The detected type must be a supported container.
func sniffVideoMIME(f multipart.File) (string, error) {
	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("op=httpserver.sniffVideoMIME: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", fmt.Errorf("op=httpserver.sniffVideoMIME: rewind: %w", err)
	}
	detected := strings.ToLower(m.String())
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}
	if _, ok := videoMIMEs[detected]; !ok {
		return detected, fmt.Errorf("op=httpserver.sniffVideoMIME: %s: %w", detected, domain.ErrInvalidArgument)
	}
	return detected, nil
}
