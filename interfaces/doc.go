// Package interfaces defines the core interfaces and types for the confidential
// batch ledger system. It provides the contract between different components
// without implementation details.
//
// The package contains:
//
//   - Identity types: AccountAddress for actors and the system instance itself.
//   - Ledger types: BatchID, BatchStatus, AssetID, SubmissionKind and the opaque
//     CiphertextHandle submitted into batches.
//   - Decryption types: RequestID and the DecryptionContext bound to each
//     outstanding request.
//   - The error taxonomy shared by every component, with category helpers.
//   - Component contracts: Authorizer, CiphertextCapability, BatchReader,
//     RecordStore and Archiver.
//
// Ciphertext handles are never decrypted by this system directly. Decryption
// happens through an external oracle reached via the CiphertextCapability
// contract, and results are only accepted when they verify against the state
// hash recorded at request time.
package interfaces
