package diag

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/rtc"
)

func TestHealthz(t *testing.T) {
	r := SetupRouter("release", rtc.NewMeet(nil, nil, nil), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestTopicsListsProtocol(t *testing.T) {
	r := SetupRouter("release", rtc.NewMeet(nil, nil, nil), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/topics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	for _, topic := range control.Topics() {
		require.Contains(t, w.Body.String(), string(topic))
	}
}

func TestModerateRaiseHandEchoesLocally(t *testing.T) {
	meet := rtc.NewMeet(nil, nil, nil)
	r := SetupRouter("release", meet, nil)

	var got []rtc.Message
	cancel := meet.SubscribeMessages(string(control.TopicRaiseHand), func(msg rtc.Message) {
		got = append(got, msg)
	})
	defer cancel()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/moderate/raise-hand", nil))

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, got, 1)
}

func TestModerateChatRequiresText(t *testing.T) {
	r := SetupRouter("release", rtc.NewMeet(nil, nil, nil), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/moderate/chat", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
