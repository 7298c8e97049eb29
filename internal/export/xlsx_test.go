package export

import (
	"bytes"
	"testing"
	"time"

	"fieldsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteXLSX(t *testing.T) {
	weight := 4.5
	failed := models.NewQueueItem(models.Action{ID: 1, Name: "Prevention"}, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	failed.IncomingMaterials = []models.MaterialDetail{{ID: 3, Weight: &weight, Code: "QR9"}, {ID: 4}}
	failed.Directus = models.ServiceState{Status: models.ServiceFailed, Error: "http 400", Permanent: true}
	failed.Status = models.ItemFailed
	ok := models.NewQueueItem(models.Action{ID: 2, Name: "Sorting"}, time.Now())

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, []*models.QueueItem{failed, ok}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers[0], rows[0][0])
	assert.Equal(t, failed.LocalID, rows[1][0])
	assert.Equal(t, "FAILED", rows[1][3])
	assert.Equal(t, "directus: http 400", rows[1][8])
	assert.Equal(t, "#3 4.5kg (QR9), #4 -", rows[1][9])
	assert.Equal(t, "Sorting", rows[2][1])
}

func TestWriteXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))
	assert.NotZero(t, buf.Len())
}
