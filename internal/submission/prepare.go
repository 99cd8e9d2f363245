package submission

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"dashboard-feedback/internal/common"
	"dashboard-feedback/internal/models"

	"github.com/disintegration/imaging"
)

// FileName is the upload name for a screenshot prepared at t
func FileName(t time.Time) string {
	return fmt.Sprintf("feedback-%d.png", t.UnixMilli())
}

// ObjectPath namespaces name under public/ with an upload timestamp, e.g.
// public/2025-05-01T12-00-00-000Z-feedback-1746100800000.png
func ObjectPath(t time.Time, name string) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return "public/" + stamp + "-" + name
}

// PrepareFile turns the screenshot's data URL into a PNG upload payload.
// Non-PNG images are re-encoded; every payload is decoded once to make sure
// it is an image.
func PrepareFile(shot *models.Screenshot, now time.Time) (*models.File, error) {
	if shot == nil || shot.DataURL == "" {
		return nil, common.NewValidationError("screenshot_missing", RequiredInputsMessage)
	}

	mimeType, data, err := common.DecodeDataURL(shot.DataURL)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeValidation, "screenshot_invalid", "Screenshot could not be read.").
			WithDetails(err.Error())
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeValidation, "screenshot_invalid", "Screenshot could not be read.").
			WithDetails(err.Error()).
			WithContext("mime_type", mimeType)
	}

	if mimeType != "image/png" {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, common.WrapError(err, common.ErrorTypeInternal, "screenshot_encode_failed", "Screenshot could not be converted.")
		}
		data = buf.Bytes()
	}

	return &models.File{
		Name:        FileName(now),
		ContentType: "image/png",
		Data:        data,
	}, nil
}
