package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnnouncementContent(t *testing.T) {
	ev := CompletionEvent{
		DisplayName: "Ava",
		Title:       "Lunch selfie",
		Points:      20,
		PhotoURL:    "https://photos.example.com/abc.jpg",
		Caption:     "best lunch ever",
	}

	content := AnnouncementContent(ev)
	assert.Equal(t,
		`Ava completed "Lunch selfie" (+20 pts)!`+
			`<br><img src="https://photos.example.com/abc.jpg" alt="challenge photo">`+
			`<br><em>best lunch ever</em>`,
		content)
}

func TestAnnouncementContentWithoutPhoto(t *testing.T) {
	ev := CompletionEvent{DisplayName: "Ben", Title: "Say hi", Points: 5}

	content := AnnouncementContent(ev)
	assert.Equal(t, `Ben completed "Say hi" (+5 pts)!`, content)
	assert.NotContains(t, content, "<img")
}

func TestAnnouncementContentEscapesUserText(t *testing.T) {
	ev := CompletionEvent{
		DisplayName: "<script>x</script>",
		Title:       "Say hi",
		Points:      5,
		Caption:     "a < b",
	}

	content := AnnouncementContent(ev)
	assert.NotContains(t, content, "<script>")
	assert.Contains(t, content, "a &lt; b")
}
