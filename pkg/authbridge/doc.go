/*
Package authbridge reconciles the upstream session authority with the
credential the HTTP client actually sends.

# Overview

The web client has two sources of authentication truth that can disagree at
any moment: the session authority (which owns login flows and reports the
current session) and the persisted credential store (which the HTTP client
reads on every call). This package keeps them consistent, upgrades
anonymous visitors to guest identities, refreshes expiring credentials, and
recovers from server-side token rejection.

# Client

Client talks to the remote API's three auth endpoints:

	client := authbridge.NewClient("https://api.example.com",
		authbridge.WithAPIKey(apiKey),
	)

	// Mint an anonymous bearer token (no credential required)
	token, err := client.IssueGuestToken(ctx)

	// Ask the API whether it still accepts a token
	err = client.VerifyToken(ctx, token)

	// Exchange a refresh token for a new pair
	pair, err := client.Refresh(ctx, refreshToken)

Guest issuance failure is a recoverable condition: callers continue without
a credential and let the remote API answer 401.

# Bridge

Bridge owns reconciliation. Feed it every session-authority update and it
decides whether to adopt, keep, or discard the persisted credential:

	bridge := authbridge.New(authority, store, client)

	// On every authority update
	bridge.Synchronize(ctx, snapshot)

	// Before rendering protected content
	if res := bridge.EnsureAuthenticated(ctx); !res.OK {
		// res.Reason tells the page whether to redirect or show a banner
	}

	<-bridge.Ready() // wait for the first terminal reconciliation state

Both procedures are idempotent and safe to re-run; a superseded
reconciliation is corrected by the next one rather than cancelled.

# Events

Credential changes are published on a typed broadcast channel so other
tabs, workers, or UI surfaces can react without the bridge knowing about
any particular transport:

	events, cancel := bridge.Events().Subscribe()
	defer cancel()
	for ev := range events {
		// ev.Type: TokenUpdated, SignedOut, GuestIssued
	}
*/
package authbridge
