package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketRoundTrip(t *testing.T) {
	g, doc, boxes := newTestGateway(t)
	srv := httptest.NewServer(WebsocketHandler(g, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	send := func(req Request) Response {
		t.Helper()
		raw, err := json.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(data, &resp))
		assert.Equal(t, req.ID, resp.ID)
		return resp
	}

	resp := send(Request{ID: "1", Method: "getEntities"})
	require.Nil(t, resp.Error)
	var entities EntitiesResult
	require.NoError(t, json.Unmarshal(resp.Result, &entities))
	assert.Len(t, entities.Entities, 3)

	params, _ := json.Marshal(ActivateParams{GroupID: "focus"})
	resp = send(Request{ID: "2", Method: "activateGroup", Params: params})
	require.Nil(t, resp.Error)
	assert.True(t, checked(t, doc, boxes["personal"]))
	assert.False(t, checked(t, doc, boxes["work"]))

	resp = send(Request{ID: "3", Method: "restoreAll"})
	require.Nil(t, resp.Error)
	assert.True(t, checked(t, doc, boxes["work"]))

	// A malformed frame still gets a structured reply; the session lives on.
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{broken")))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var bad Response
	require.NoError(t, json.Unmarshal(data, &bad))
	require.NotNil(t, bad.Error)
	assert.Equal(t, CodeInvalidRequest, bad.Error.Code)
}
