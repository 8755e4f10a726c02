package etims

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"

	"bitbucket.org/mmdatafocus/etims_backend/utils"
)

const qrImageSize = 256

// GenerateAndStoreQRImage renders the signed-receipt verification URL as a
// QR image and uploads it, returning the stored object's access URL.
func GenerateAndStoreQRImage(ctx context.Context, settingsName, invoiceName, verifyURL string) (string, error) {
	encoded, err := qrcode.Encode(verifyURL, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}

	decoded, err := imaging.Decode(bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	framed := imaging.Fit(decoded, qrImageSize, qrImageSize, imaging.Lanczos)

	var out bytes.Buffer
	if err := png.Encode(&out, framed); err != nil {
		return "", err
	}

	objectKey := qrObjectKey(settingsName, invoiceName)
	if err := utils.UploadBytesToGCS(ctx, objectKey, out.Bytes(), "image/png"); err != nil {
		return "", err
	}
	return utils.BuildObjectAccessURL(objectKey), nil
}

// RemoveQRImage deletes a stored QR image. Used when a mismatched invoice
// is revised and its old receipt is no longer valid.
func RemoveQRImage(ctx context.Context, settingsName, invoiceName string) error {
	return utils.DeleteObjectFromGCS(ctx, qrObjectKey(settingsName, invoiceName))
}

func qrObjectKey(settingsName, invoiceName string) string {
	return fmt.Sprintf("%s/qr/%s.png", settingsName, invoiceName)
}
