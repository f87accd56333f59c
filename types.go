package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"officewars/pkg/core"
	"officewars/pkg/types"
)

// --- Request bodies ---
// Bodies are plain text, one field per line unless noted.

var errBadRequest = errors.New("malformed request")

// RegisterRequest is "GAMEID #rrggbb Their Name".
type RegisterRequest struct {
	GameID string
	Color  string
	Name   string
}

func parseRegister(body string) (RegisterRequest, error) {
	body = strings.TrimRight(body, "\r\n")
	fields := strings.SplitN(body, " ", 3)
	if len(fields) != 3 {
		return RegisterRequest{}, fmt.Errorf("%w: want \"GAMEID #rrggbb Name\"", errBadRequest)
	}
	req := RegisterRequest{GameID: fields[0], Color: fields[1], Name: strings.TrimSpace(fields[2])}
	if !core.ValidKey(req.GameID) {
		return RegisterRequest{}, fmt.Errorf("%w: bad game id", errBadRequest)
	}
	return req, nil
}

// OrderRequest is "type\nfrom\nto\ngameId\nsecret\n".
type OrderRequest struct {
	Type   types.OrderType
	From   int
	To     int
	GameID string
	Secret string
}

func parseOrder(body string) (OrderRequest, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	if len(lines) < 5 {
		return OrderRequest{}, fmt.Errorf("%w: want type, from, to, game id and secret lines", errBadRequest)
	}
	var (
		req  OrderRequest
		nums [3]int
	)
	for i := range nums {
		v, err := strconv.Atoi(strings.TrimSpace(lines[i]))
		if err != nil {
			return OrderRequest{}, fmt.Errorf("%w: line %d: %q", errBadRequest, i+1, lines[i])
		}
		nums[i] = v
	}
	req.Type, req.From, req.To = types.OrderType(nums[0]), nums[1], nums[2]
	req.GameID = strings.TrimSpace(lines[3])
	req.Secret = strings.TrimSpace(lines[4])
	if !core.ValidKey(req.GameID) || !core.ValidKey(req.Secret) {
		return OrderRequest{}, fmt.Errorf("%w: bad game id or secret", errBadRequest)
	}
	return req, nil
}

// --- Responses ---

type StatusResponse struct {
	UUID       string `json:"uuid"`
	Uptime     string `json:"uptime"`
	TickPolicy string `json:"tick_policy"`
	Games      int    `json:"games"`
	Running    int    `json:"running"`
	Locked     int    `json:"locked"`
}
