package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"RimValidator/internal/model"
)

// SupabaseStore implements AccountStore against a PostgREST endpoint.
type SupabaseStore struct {
	BaseURL string
	APIKey  string
	Table   string
	Client  *http.Client
}

// NewSupabaseStore creates a store client with optional proxy support.
func NewSupabaseStore(baseURL, apiKey, table, proxyURL string, timeout time.Duration) *SupabaseStore {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if table == "" {
		table = "users"
	}
	return &SupabaseStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Table:   table,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (s *SupabaseStore) Name() string { return "supabase" }

// accountRow is the JSON shape of one row. Fields stay raw because the table
// has held numbers and strings in the same columns over time.
type accountRow struct {
	ID            json.RawMessage `json:"id"`
	Balance       json.RawMessage `json:"balance"`
	ReferredBy    json.RawMessage `json:"referred_by"`
	LastHeartbeat json.RawMessage `json:"last_heartbeat"`
	RelayExpiry   json.RawMessage `json:"relay_expiry"`
	BoosterExpiry json.RawMessage `json:"booster_expiry"`
	BotnetExpiry  json.RawMessage `json:"botnet_expiry"`
}

func (s *SupabaseStore) FetchAll(ctx context.Context) ([]model.Account, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?select=*", s.BaseURL, url.PathEscape(s.Table))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating fetch request")
	}
	s.authorize(req)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch accounts")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("fetch accounts: status %d, body: %s", resp.StatusCode, string(body))
	}

	accounts, err := DecodeAccounts(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "decode accounts")
	}
	return accounts, nil
}

// DecodeAccounts reads a JSON array of account rows. Rows without an id are
// dropped; rows with an unreadable balance carry DecodeErr.
func DecodeAccounts(r io.Reader) ([]model.Account, error) {
	var rows []accountRow
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, err
	}
	accounts := make([]model.Account, 0, len(rows))
	for i, row := range rows {
		acc, ok := row.toAccount()
		if !ok {
			// No usable id: the row can neither be paid nor referred to.
			continue
		}
		if acc.DecodeErr != nil {
			acc.DecodeErr = errors.Wrapf(acc.DecodeErr, "row %d", i)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func (s *SupabaseStore) UpdateBalance(ctx context.Context, id model.AccountID, balance float64) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s", s.BaseURL, url.PathEscape(s.Table), url.QueryEscape(string(id)))
	body, err := json.Marshal(map[string]float64{"balance": balance})
	if err != nil {
		return errors.Wrap(err, "marshal balance")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating update request")
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := s.Client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "update balance of [%s]", id)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("update balance of [%s]: status %d, body: %s", id, resp.StatusCode, string(respBody))
	}

	var updated []json.RawMessage
	if err := json.Unmarshal(respBody, &updated); err == nil && len(updated) == 0 {
		return errors.Wrapf(ErrNotFound, "update balance of [%s]", id)
	}
	return nil
}

func (s *SupabaseStore) authorize(req *http.Request) {
	req.Header.Set("apikey", s.APIKey)
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Accept", "application/json")
}

func (r accountRow) toAccount() (model.Account, bool) {
	id, ok := decodeID(r.ID)
	if !ok {
		return model.Account{}, false
	}
	acc := model.Account{
		ID:            id,
		RelayExpiry:   decodeMarker(r.RelayExpiry),
		BoosterExpiry: decodeMarker(r.BoosterExpiry),
		BotnetExpiry:  decodeMarker(r.BotnetExpiry),
	}
	if ref, ok := decodeID(r.ReferredBy); ok {
		acc.ReferredBy = &ref
	}
	if !isNull(r.LastHeartbeat) {
		var hb string
		if err := json.Unmarshal(r.LastHeartbeat, &hb); err != nil {
			// Keep the raw text so evaluation sees an unreadable heartbeat.
			hb = string(r.LastHeartbeat)
		}
		acc.LastHeartbeat = &hb
	}
	balance, err := decodeBalance(r.Balance)
	if err != nil {
		acc.DecodeErr = errors.Wrapf(err, "account [%s] balance", id)
	} else {
		acc.Balance = balance
	}
	return acc, true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeID accepts a JSON string or number. Empty strings are treated as absent.
func decodeID(raw json.RawMessage) (model.AccountID, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return model.AccountID(s), s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return model.AccountID(n.String()), true
	}
	return "", false
}

// decodeBalance accepts a number, a numeric string or null (zero). The result
// is always finite and non-negative.
func decodeBalance(raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("unsupported value %s", string(raw))
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", s, err)
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %s", string(raw))
	}
	if f < 0 {
		return 0, fmt.Errorf("negative value %s", string(raw))
	}
	return f, nil
}

// decodeMarker keeps numbers as json.Number so epoch milliseconds survive exactly.
func decodeMarker(raw json.RawMessage) any {
	if isNull(raw) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}
