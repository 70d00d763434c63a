package oracle

import (
	"context"
	"math/big"

	"github.com/stretchr/testify/mock"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// MockCapability mocks the CiphertextCapability interface
type MockCapability struct {
	mock.Mock
}

// IsInitialized mocks the IsInitialized method
func (m *MockCapability) IsInitialized(handle interfaces.CiphertextHandle) bool {
	args := m.Called(handle)
	return args.Bool(0)
}

// CanonicalBytes mocks the CanonicalBytes method
func (m *MockCapability) CanonicalBytes(handle interfaces.CiphertextHandle) ([]byte, error) {
	args := m.Called(handle)
	return args.Get(0).([]byte), args.Error(1)
}

// RequestDecryption mocks the RequestDecryption method
func (m *MockCapability) RequestDecryption(ctx context.Context, handles []interfaces.CiphertextHandle) (interfaces.RequestID, error) {
	args := m.Called(ctx, handles)
	return args.Get(0).(interfaces.RequestID), args.Error(1)
}

// VerifyProof mocks the VerifyProof method
func (m *MockCapability) VerifyProof(requestID interfaces.RequestID, cleartexts []*big.Int, proof []byte) (bool, error) {
	args := m.Called(requestID, cleartexts, proof)
	return args.Bool(0), args.Error(1)
}
