// keypears - federated encrypted password vault
// Copyright (C) 2025 keypears
//
// This file is part of keypears.
//
// keypears is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// keypears is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with keypears. If not, see <https://www.gnu.org/licenses/>.

package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keypears/keypears-core/core/admission"
	"github.com/keypears/keypears-core/core/channel"
	"github.com/keypears/keypears-core/core/engagement"
	"github.com/keypears/keypears-core/core/secretlog"
	"github.com/keypears/keypears-core/core/vault"
	"github.com/keypears/keypears-core/crypto"
	"github.com/keypears/keypears-core/health"
	"github.com/keypears/keypears-core/internal/ids"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/testutil"
	"github.com/keypears/keypears-core/pkg/storage"
	"github.com/keypears/keypears-core/pkg/storage/memory"
	"github.com/keypears/keypears-core/pow"
)

// approveAllVerifier stands in for remote domains that attest every
// key.
type approveAllVerifier struct{}

func (approveAllVerifier) VerifyEngagementKeyOwnership(ctx context.Context, address string, pubKey []byte) error {
	return nil
}

type testServer struct {
	http  *httptest.Server
	pow   *pow.Controller
	store *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	log := logger.Nop()

	powController := pow.NewController(
		store.PowChallenges(), store.Vaults(), store.Channels(),
		pow.Config{RegistrationDifficulty: pow.MinDifficulty}, log,
	)
	registry := vault.NewRegistry(store.Vaults(), store.Sessions(), powController, vault.Config{
		AcceptedDomains: []string{"keypears.com"},
		SessionTTL:      time.Hour,
	}, log)
	engagementService := engagement.NewService(store.EngagementKeys(), store.Vaults(), log)
	admissionService := admission.NewService(
		powController, store.Vaults(), engagementService,
		store.Channels(), store.Inbox(), approveAllVerifier{},
		admission.Config{LocalDomains: []string{"keypears.com"}}, log,
	)
	channelManager := channel.NewManager(store.Channels(), store.Inbox(), log)
	secretLog := secretlog.NewLog(store.SecretUpdates(), log)
	checker := health.NewChecker()
	checker.Register("database", store.Ping)

	server := NewServer(Deps{
		Registry:   registry,
		Engagement: engagementService,
		Admission:  admissionService,
		Channels:   channelManager,
		Secrets:    secretLog,
		Pow:        powController,
		Checker:    checker,
		Log:        log,
	})

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return &testServer{http: ts, pow: powController, store: store}
}

// post sends a JSON request, optionally authenticated, and decodes the
// response into out when the status matches.
func (ts *testServer) post(t *testing.T, path, token string, payload, out any) (int, map[string]json.RawMessage) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.http.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	if out != nil && resp.StatusCode == http.StatusOK {
		full, err := json.Marshal(raw)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(full, out))
	}
	return resp.StatusCode, raw
}

func (ts *testServer) errorCode(t *testing.T, raw map[string]json.RawMessage) string {
	t.Helper()
	var e Error
	require.NoError(t, json.Unmarshal(raw["error"], &e))
	return e.Code
}

// registerVault drives the public registration flow over HTTP.
func (ts *testServer) registerVault(t *testing.T, name string) (vaultID string, loginKey []byte) {
	t.Helper()

	var challenge getPowChallengeResponse
	status, _ := ts.post(t, "/api/getPowChallenge", "", getPowChallengeRequest{
		Purpose: storage.PowPurposeRegistration,
	}, &challenge)
	require.Equal(t, http.StatusOK, status)

	headerBytes, err := hex.DecodeString(challenge.Header)
	require.NoError(t, err)
	target, err := hex.DecodeString(challenge.Target)
	require.NoError(t, err)
	solvedHeader, solvedHash := testutil.SolvePow(t, &storage.PowChallenge{
		ID: challenge.ID, Algorithm: challenge.Algorithm,
		Header: headerBytes, Target: target, Difficulty: challenge.Difficulty,
	})

	_, pub := testutil.Keypair(t)
	loginKey = crypto.SHA256([]byte("login key for " + name))

	var registered registerVaultResponse
	status, raw := ts.post(t, "/api/registerVault", "", registerVaultRequest{
		Name:              name,
		Domain:            "keypears.com",
		VaultPubKey:       hex.EncodeToString(pub),
		VaultPubKeyHash:   hex.EncodeToString(crypto.SHA256(pub)),
		LoginKey:          hex.EncodeToString(loginKey),
		EncryptedVaultKey: hex.EncodeToString([]byte("opaque")),
		PowChallengeID:    challenge.ID,
		SolvedHeader:      hex.EncodeToString(solvedHeader),
		SolvedHash:        hex.EncodeToString(solvedHash),
	}, &registered)
	require.Equal(t, http.StatusOK, status, "register failed: %v", raw)
	require.True(t, ids.IsValid(registered.VaultID))
	return registered.VaultID, loginKey
}

func (ts *testServer) login(t *testing.T, vaultID string, loginKey []byte) string {
	t.Helper()
	var resp loginResponse
	status, _ := ts.post(t, "/api/login", "", loginRequest{
		VaultID:  vaultID,
		LoginKey: hex.EncodeToString(loginKey),
		DeviceID: "test-device",
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, resp.SessionToken)
	return resp.SessionToken
}

func TestRegistrationAndLoginFlow(t *testing.T) {
	ts := newTestServer(t)

	var availability checkNameAvailabilityResponse
	status, _ := ts.post(t, "/api/checkNameAvailability", "", checkNameAvailabilityRequest{
		Name: "alice", Domain: "keypears.com",
	}, &availability)
	require.Equal(t, http.StatusOK, status)
	require.True(t, availability.Available)

	vaultID, loginKey := ts.registerVault(t, "alice")

	status, _ = ts.post(t, "/api/checkNameAvailability", "", checkNameAvailabilityRequest{
		Name: "alice", Domain: "keypears.com",
	}, &availability)
	require.Equal(t, http.StatusOK, status)
	require.False(t, availability.Available)

	token := ts.login(t, vaultID, loginKey)

	var vaultInfo vaultResponse
	status, _ = ts.post(t, "/api/getVault", token, getVaultRequest{}, &vaultInfo)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "alice", vaultInfo.Name)
	require.Equal(t, hex.EncodeToString([]byte("opaque")), vaultInfo.EncryptedVaultKey)

	t.Run("bad login maps to AuthInvalid", func(t *testing.T) {
		otherID, _ := ts.registerVault(t, "bob")
		status, raw := ts.post(t, "/api/login", "", loginRequest{
			VaultID:  otherID,
			LoginKey: hex.EncodeToString(crypto.SHA256([]byte("wrong"))),
			DeviceID: "test-device",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, status)
		require.Equal(t, CodeAuthInvalid, ts.errorCode(t, raw))
	})

	t.Run("duplicate registration maps to Conflict", func(t *testing.T) {
		var challenge getPowChallengeResponse
		_, _ = ts.post(t, "/api/getPowChallenge", "", getPowChallengeRequest{
			Purpose: storage.PowPurposeRegistration,
		}, &challenge)
		headerBytes, _ := hex.DecodeString(challenge.Header)
		target, _ := hex.DecodeString(challenge.Target)
		solvedHeader, solvedHash := testutil.SolvePow(t, &storage.PowChallenge{
			ID: challenge.ID, Algorithm: challenge.Algorithm,
			Header: headerBytes, Target: target, Difficulty: challenge.Difficulty,
		})
		_, pub := testutil.Keypair(t)

		status, raw := ts.post(t, "/api/registerVault", "", registerVaultRequest{
			Name:              "alice",
			Domain:            "keypears.com",
			VaultPubKey:       hex.EncodeToString(pub),
			VaultPubKeyHash:   hex.EncodeToString(crypto.SHA256(pub)),
			LoginKey:          hex.EncodeToString(crypto.SHA256([]byte("x"))),
			EncryptedVaultKey: hex.EncodeToString([]byte("opaque")),
			PowChallengeID:    challenge.ID,
			SolvedHeader:      hex.EncodeToString(solvedHeader),
			SolvedHash:        hex.EncodeToString(solvedHash),
		}, nil)
		require.Equal(t, http.StatusConflict, status)
		require.Equal(t, CodeConflict, ts.errorCode(t, raw))
	})
}

func TestAuthBoundary(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		status, raw := ts.post(t, "/api/getVault", "", getVaultRequest{}, nil)
		require.Equal(t, http.StatusUnauthorized, status)
		require.Equal(t, CodeAuthRequired, ts.errorCode(t, raw))
	})

	t.Run("bogus token", func(t *testing.T) {
		status, raw := ts.post(t, "/api/getVault", "feedface", getVaultRequest{}, nil)
		require.Equal(t, http.StatusUnauthorized, status)
		require.Equal(t, CodeAuthInvalid, ts.errorCode(t, raw))
	})

	t.Run("vault id must match session", func(t *testing.T) {
		vaultID, loginKey := ts.registerVault(t, "carol")
		token := ts.login(t, vaultID, loginKey)

		status, raw := ts.post(t, "/api/getChannels", token, getChannelsRequest{
			VaultID: ids.New(),
		}, nil)
		require.Equal(t, http.StatusUnauthorized, status)
		require.Equal(t, CodeAuthInvalid, ts.errorCode(t, raw))
	})

	t.Run("logout is idempotent", func(t *testing.T) {
		vaultID, loginKey := ts.registerVault(t, "dave")
		token := ts.login(t, vaultID, loginKey)

		status, _ := ts.post(t, "/api/logout", token, struct{}{}, nil)
		require.Equal(t, http.StatusOK, status)
		status, _ = ts.post(t, "/api/logout", token, struct{}{}, nil)
		require.Equal(t, http.StatusOK, status)

		status, _ = ts.post(t, "/api/getVault", token, getVaultRequest{}, nil)
		require.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestSecretUpdateEndpoints(t *testing.T) {
	ts := newTestServer(t)
	vaultID, loginKey := ts.registerVault(t, "alice")
	token := ts.login(t, vaultID, loginKey)

	secretID := ids.New()
	for want := int64(1); want <= 3; want++ {
		var created secretUpdateResponse
		status, _ := ts.post(t, "/api/createSecretUpdate", token, createSecretUpdateRequest{
			SecretID:      secretID,
			EncryptedBlob: hex.EncodeToString([]byte("encrypted blob")),
		}, &created)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, want, created.GlobalOrder)
		require.Equal(t, want, created.LocalOrder)
	}

	var page getSecretUpdatesResponse
	status, _ := ts.post(t, "/api/getSecretUpdates", token, getSecretUpdatesRequest{
		SinceGlobalOrder: 1,
	}, &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Updates, 2)
	require.Equal(t, int64(2), page.Updates[0].GlobalOrder)

	t.Run("invalid secret id maps to ValidationFailed", func(t *testing.T) {
		status, raw := ts.post(t, "/api/createSecretUpdate", token, createSecretUpdateRequest{
			SecretID:      "nope",
			EncryptedBlob: hex.EncodeToString([]byte("x")),
		}, nil)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, CodeValidationFailed, ts.errorCode(t, raw))
	})
}

func TestMessagingEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.registerVault(t, "bob")

	senderPriv, senderPub := testutil.Keypair(t)

	admit := func(t *testing.T) (receiveKeyHex, powID string) {
		var challenge getPowChallengeResponse
		status, _ := ts.post(t, "/api/getPowChallenge", "", getPowChallengeRequest{
			Purpose:          storage.PowPurposeMessaging,
			RecipientAddress: "bob@keypears.com",
			SenderAddress:    "alice@passapples.com",
		}, &challenge)
		require.Equal(t, http.StatusOK, status)

		headerBytes, err := hex.DecodeString(challenge.Header)
		require.NoError(t, err)
		target, err := hex.DecodeString(challenge.Target)
		require.NoError(t, err)
		solvedHeader, solvedHash := testutil.SolvePow(t, &storage.PowChallenge{
			ID: challenge.ID, Algorithm: challenge.Algorithm,
			Header: headerBytes, Target: target, Difficulty: challenge.Difficulty,
		})
		sig, err := crypto.Sign(solvedHash, senderPriv)
		require.NoError(t, err)

		var resp getCounterpartyEngagementKeyResponse
		status, raw := ts.post(t, "/api/getCounterpartyEngagementKey", "", getCounterpartyEngagementKeyRequest{
			RecipientAddress: "bob@keypears.com",
			SenderAddress:    "alice@passapples.com",
			SenderPubKey:     hex.EncodeToString(senderPub),
			PowChallengeID:   challenge.ID,
			SolvedHeader:     hex.EncodeToString(solvedHeader),
			SolvedHash:       hex.EncodeToString(solvedHash),
			Signature:        hex.EncodeToString(sig),
		}, &resp)
		require.Equal(t, http.StatusOK, status, "admission failed: %v", raw)
		return resp.EngagementPubKey, challenge.ID
	}

	receiveKey, powID := admit(t)

	t.Run("send message and order assignment", func(t *testing.T) {
		var sent sendMessageResponse
		status, raw := ts.post(t, "/api/sendMessage", "", sendMessageRequest{
			RecipientAddress:          "bob@keypears.com",
			SenderAddress:             "alice@passapples.com",
			EncryptedContent:          hex.EncodeToString([]byte("ciphertext")),
			SenderEngagementPubKey:    hex.EncodeToString(senderPub),
			RecipientEngagementPubKey: receiveKey,
			PowChallengeID:            powID,
		}, &sent)
		require.Equal(t, http.StatusOK, status, "send failed: %v", raw)
		require.Equal(t, int64(1), sent.OrderInChannel)

		// Same proof, same bindings: idempotent.
		var resent sendMessageResponse
		status, _ = ts.post(t, "/api/sendMessage", "", sendMessageRequest{
			RecipientAddress:          "bob@keypears.com",
			SenderAddress:             "alice@passapples.com",
			EncryptedContent:          hex.EncodeToString([]byte("ciphertext")),
			SenderEngagementPubKey:    hex.EncodeToString(senderPub),
			RecipientEngagementPubKey: receiveKey,
			PowChallengeID:            powID,
		}, &resent)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, sent.MessageID, resent.MessageID)
	})

	t.Run("binding mismatch maps to ChannelBindingMismatch", func(t *testing.T) {
		status, raw := ts.post(t, "/api/sendMessage", "", sendMessageRequest{
			RecipientAddress:          "bob@keypears.com",
			SenderAddress:             "mallory@passapples.com",
			EncryptedContent:          hex.EncodeToString([]byte("x")),
			SenderEngagementPubKey:    hex.EncodeToString(senderPub),
			RecipientEngagementPubKey: receiveKey,
			PowChallengeID:            powID,
		}, nil)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, CodeChannelBindingMismatch, ts.errorCode(t, raw))
	})

	t.Run("pow reuse on admission maps to PowInvalid", func(t *testing.T) {
		proof, err := ts.pow.Lookup(context.Background(), powID)
		require.NoError(t, err)
		sig, err := crypto.Sign(proof.SolvedHash, senderPriv)
		require.NoError(t, err)

		status, raw := ts.post(t, "/api/getCounterpartyEngagementKey", "", getCounterpartyEngagementKeyRequest{
			RecipientAddress: "bob@keypears.com",
			SenderAddress:    "alice@passapples.com",
			SenderPubKey:     hex.EncodeToString(senderPub),
			PowChallengeID:   powID,
			SolvedHeader:     hex.EncodeToString(proof.SolvedHeader),
			SolvedHash:       hex.EncodeToString(proof.SolvedHash),
			Signature:        hex.EncodeToString(sig),
		}, nil)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, CodePowInvalid, ts.errorCode(t, raw))
	})

	t.Run("verifyPowProof reports validity without consuming", func(t *testing.T) {
		var challenge getPowChallengeResponse
		status, _ := ts.post(t, "/api/getPowChallenge", "", getPowChallengeRequest{}, &challenge)
		require.Equal(t, http.StatusOK, status)

		headerBytes, _ := hex.DecodeString(challenge.Header)
		target, _ := hex.DecodeString(challenge.Target)
		solvedHeader, solvedHash := testutil.SolvePow(t, &storage.PowChallenge{
			ID: challenge.ID, Algorithm: challenge.Algorithm,
			Header: headerBytes, Target: target, Difficulty: challenge.Difficulty,
		})

		var verdict verifyPowProofResponse
		status, _ = ts.post(t, "/api/verifyPowProof", "", verifyPowProofRequest{
			ID:           challenge.ID,
			SolvedHeader: hex.EncodeToString(solvedHeader),
			Hash:         hex.EncodeToString(solvedHash),
		}, &verdict)
		require.Equal(t, http.StatusOK, status)
		require.True(t, verdict.Valid)

		bad := append([]byte{}, solvedHash...)
		bad[0] ^= 0x01
		status, _ = ts.post(t, "/api/verifyPowProof", "", verifyPowProofRequest{
			ID:           challenge.ID,
			SolvedHeader: hex.EncodeToString(solvedHeader),
			Hash:         hex.EncodeToString(bad),
		}, &verdict)
		require.Equal(t, http.StatusOK, status)
		require.False(t, verdict.Valid)
	})
}

func TestVerifyOwnershipEndpoint(t *testing.T) {
	ts := newTestServer(t)
	vaultID, loginKey := ts.registerVault(t, "alice")
	token := ts.login(t, vaultID, loginKey)

	var key engagementKeyResponse
	status, _ := ts.post(t, "/api/getEngagementKeyForSending", token, getEngagementKeyForSendingRequest{
		CounterpartyAddress: "bob@passapples.com",
	}, &key)
	require.Equal(t, http.StatusOK, status)

	var verdict verifyOwnershipResponse
	status, _ = ts.post(t, "/api/verifyEngagementKeyOwnership", "", verifyOwnershipRequest{
		Address:          "alice@keypears.com",
		EngagementPubKey: key.EngagementPubKey,
	}, &verdict)
	require.Equal(t, http.StatusOK, status)
	require.True(t, verdict.Valid)

	t.Run("derivation scalar round trip", func(t *testing.T) {
		var derivation getDerivationPrivKeyResponse
		status, _ := ts.post(t, "/api/getDerivationPrivKey", token, getDerivationPrivKeyRequest{
			EngagementKeyID: key.EngagementKeyID,
		}, &derivation)
		require.Equal(t, http.StatusOK, status)

		d, err := hex.DecodeString(derivation.DerivationPrivKey)
		require.NoError(t, err)
		require.Len(t, d, crypto.PrivateKeySize)
	})

	t.Run("healthz", func(t *testing.T) {
		resp, err := ts.http.Client().Get(ts.http.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
