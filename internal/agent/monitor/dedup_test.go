package monitor

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

func TestDedupSuppressesWithinWindow(t *testing.T) {
	mock := clock.NewMock()
	d := newDeduper(5*time.Second, mock)

	assert.True(t, d.accept("/tmp/a.txt", models.FileEventCreated), "first event accepted")

	mock.Add(3 * time.Second)
	assert.False(t, d.accept("/tmp/a.txt", models.FileEventCreated), "duplicate inside window dropped")

	mock.Add(3 * time.Second)
	assert.True(t, d.accept("/tmp/a.txt", models.FileEventCreated), "accepted again once window elapsed")
}

func TestDedupDistinctKeysIndependent(t *testing.T) {
	mock := clock.NewMock()
	d := newDeduper(5*time.Second, mock)

	assert.True(t, d.accept("/tmp/a.txt", models.FileEventCreated))
	assert.True(t, d.accept("/tmp/b.txt", models.FileEventCreated), "different path is a different key")
	assert.True(t, d.accept("/tmp/a.txt", models.FileEventDeleted), "different subtype is a different key")
}

func TestDedupModifiedAfterCreatedSuppressed(t *testing.T) {
	mock := clock.NewMock()
	d := newDeduper(5*time.Second, mock)

	assert.True(t, d.accept("/tmp/a.txt", models.FileEventCreated))

	mock.Add(500 * time.Millisecond)
	assert.False(t, d.accept("/tmp/a.txt", models.FileEventModified), "modified within 1s of created is the same write")
}

func TestDedupModifiedWellAfterCreatedAccepted(t *testing.T) {
	mock := clock.NewMock()
	d := newDeduper(5*time.Second, mock)

	assert.True(t, d.accept("/tmp/a.txt", models.FileEventCreated))

	mock.Add(2 * time.Second)
	assert.True(t, d.accept("/tmp/a.txt", models.FileEventModified))
}

func TestDedupPruneBoundsMap(t *testing.T) {
	mock := clock.NewMock()
	d := newDeduper(time.Second, mock)

	for i := 0; i < dedupMaxEntries; i++ {
		d.accept(string(rune('a'+i%26))+string(rune('0'+i%10))+"-"+time.Duration(i).String(), models.FileEventCreated)
	}
	mock.Add(2 * time.Second)
	d.accept("/tmp/final.txt", models.FileEventCreated)

	assert.LessOrEqual(t, len(d.seen), 2, "stale entries pruned once the bound is exceeded")
}
