package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// MyRooms lists the IDs of the rooms the token's user belongs to.
func (c *Client) MyRooms(ctx context.Context, token string) ([]string, error) {
	body, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/room/my-rooms", Token: token})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &BackendError{Status: http.StatusOK, Err: fmt.Errorf("my-rooms: response is not JSON")}
	}
	result := gjson.GetBytes(body, "rooms.#.id")
	ids := make([]string, 0, len(result.Array()))
	for _, id := range result.Array() {
		if s := id.String(); s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}
