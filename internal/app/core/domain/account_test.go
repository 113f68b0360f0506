package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAccountDepositWithdraw(t *testing.T) {
	acc := NewAccount("A", "alice", time.Now())

	if err := acc.Deposit(decimal.NewFromInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := acc.Withdraw(decimal.RequireFromString("30.25")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if want := decimal.RequireFromString("69.75"); !acc.Balance.Equal(want) {
		t.Errorf("balance = %s, want %s", acc.Balance, want)
	}
}

func TestAccountWithdrawInsufficient(t *testing.T) {
	acc := NewAccount("A", "alice", time.Now())
	acc.Balance = decimal.NewFromInt(10)

	err := acc.Withdraw(decimal.NewFromInt(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if !acc.Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance changed to %s", acc.Balance)
	}
}

func TestAccountRejectsNonPositiveAmounts(t *testing.T) {
	acc := NewAccount("A", "alice", time.Now())
	for _, amt := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		if err := acc.Deposit(amt); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Deposit(%s) = %v", amt, err)
		}
		if err := acc.Withdraw(amt); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Withdraw(%s) = %v", amt, err)
		}
	}
}

func TestAccountClose(t *testing.T) {
	acc := NewAccount("A", "alice", time.Now())
	acc.Balance = decimal.NewFromInt(1)

	if err := acc.Close(); !errors.Is(err, ErrAccountNotEmpty) {
		t.Fatalf("close with funds: %v", err)
	}
	acc.Balance = decimal.Zero
	if err := acc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if acc.Active {
		t.Fatal("account still active")
	}
	if err := acc.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := acc.Deposit(decimal.NewFromInt(1)); !errors.Is(err, ErrAccountClosed) {
		t.Errorf("deposit on closed account: %v", err)
	}
}

func TestReasonRoundTrip(t *testing.T) {
	for _, err := range []error{ErrInsufficientFunds, ErrAccountNotFound, ErrAccountClosed, ErrNotReversible, ErrBalanceLimit} {
		reason := RejectionReason(err)
		if reason == "" {
			t.Fatalf("no reason for %v", err)
		}
		if got := ReasonError(reason); !errors.Is(got, err) {
			t.Errorf("ReasonError(%q) = %v, want %v", reason, got, err)
		}
	}
	if RejectionReason(ErrStaleWrite) != "" {
		t.Error("stale write must not be a rejection")
	}
	if !errors.Is(ReasonError(ReasonUnrecoverable), ErrValidation) {
		t.Error("unrecoverable should classify as validation")
	}
}
