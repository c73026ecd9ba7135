// Package payments turns payment gateway notifications into ledger
// transitions.
//
// Two notification paths exist. The checkout callback carries the gateway
// order id, payment id and an HMAC signature over "order_id|payment_id"; the
// webhook carries a JSON event signed over its raw body. Both paths:
//
//  1. verify the signature,
//  2. append the raw notification to the callback log, verified or not,
//  3. activate the order only if verification passed.
//
// A failed verification is reported to the client as a plain FAILED status,
// never as an error. A notification for an already paid order succeeds
// without touching the ledger, so a callback and a webhook racing for the
// same payment are both safe.
package payments
