package transfer

import (
	"time"

	"absensi/internal/attendance"
)

var testNow = time.Date(2024, 3, 15, 9, 45, 10, 0, time.UTC)

func sampleRecords() []attendance.Record {
	return []attendance.Record{
		{
			ID:        1710495000123,
			Nama:      "Ani Lestari",
			Telp:      "081234567890",
			Status:    attendance.StatusPending,
			CreatedAt: time.Date(2024, 3, 15, 9, 30, 0, 123000000, time.UTC),
		},
		{
			ID:        1710495060456,
			Nama:      "Budi",
			Telp:      "0899",
			Foto:      "data:image/png;base64,iVBORw0KGgo=",
			Status:    attendance.StatusAccepted,
			CreatedAt: time.Date(2024, 3, 15, 9, 31, 0, 456000000, time.UTC),
		},
	}
}

type seqIDs struct{ next int64 }

func (s *seqIDs) NextID(time.Time) int64 {
	s.next++
	return s.next
}
