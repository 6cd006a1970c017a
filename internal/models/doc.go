// Package models defines the core domain types for splittab.
//
// # Models
//
//   - User: a registered chat user, keyed by the transport's int64 user ID
//   - Transaction: one recorded expense, split equally among its debtors
//   - Debt: the per-debtor slice of a transaction with its settlement status
//   - DebtDetail: a debt joined with its transaction context, used for listings
//   - Summary: everything a user owes and is owed
//
// # Design principles
//
//  1. Amounts are decimal.Decimal everywhere. Float money is a correctness
//     hazard; shares are computed and stored as exact decimals.
//  2. Status is monotone: pending -> marked -> confirmed, never backwards.
//     DebtStatus.CanTransitionTo encodes the only legal moves.
//  3. Transactions are immutable after creation except for debt status.
//     Confirmed transactions are retained for history, never deleted.
package models
