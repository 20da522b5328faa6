package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)

	key := ObjectKey(KindReceipt, at, ".jpg")
	assert.Regexp(t, regexp.MustCompile(`^receipts/2026/03/07/[0-9a-f-]{36}\.jpg$`), key)

	audio := ObjectKey(KindAudio, at, ".webm")
	assert.Regexp(t, regexp.MustCompile(`^audio/2026/03/07/[0-9a-f-]{36}\.webm$`), audio)

	assert.NotEqual(t, key, ObjectKey(KindReceipt, at, ".jpg"), "keys are unique")
}

func TestFileExtension(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":             ".jpg",
		"image/jpg":              ".jpg",
		"IMAGE/PNG":              ".png",
		"image/webp":             ".webp",
		"audio/webm;codecs=opus": ".webm",
		"audio/ogg":              ".ogg",
		"audio/mpeg":             ".mp3",
		"audio/x-wav":            ".wav",
		"audio/mp4":              ".m4a",
		"application/pdf":        ".bin",
		"":                       ".bin",
	}
	for contentType, want := range tests {
		assert.Equal(t, want, FileExtension(contentType), contentType)
	}
}

func TestObjectName(t *testing.T) {
	s := &ObjectStore{bucket: "finguru-media"}
	assert.Equal(t, "receipts/2026/01/01/x.jpg", s.objectName("finguru-media/receipts/2026/01/01/x.jpg"))
	assert.Equal(t, "receipts/2026/01/01/x.jpg", s.objectName("receipts/2026/01/01/x.jpg"))
}

func TestNewObjectStore_RequiresEndpoint(t *testing.T) {
	_, err := NewObjectStore(context.Background(), models.StorageConfig{Bucket: "b"}, nil)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
