package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionTypeValid(t *testing.T) {
	for _, typ := range AllTransactionTypes {
		assert.True(t, typ.Valid(), "%s should be valid", typ)
	}
	assert.False(t, TransactionType("").Valid())
	assert.False(t, TransactionType("barter").Valid())
	assert.False(t, TransactionType("BUY_STOCK").Valid())
}

func TestTransactionTypeIsTransfer(t *testing.T) {
	transfers := map[TransactionType]bool{
		TxBankToBrokerage:           true,
		TxBrokerageToBank:           true,
		TxInterfundCashTransfer:     true,
		TxInterfundPositionTransfer: true,
	}
	for _, typ := range AllTransactionTypes {
		assert.Equal(t, transfers[typ], typ.IsTransfer(), "type %s", typ)
	}
}
