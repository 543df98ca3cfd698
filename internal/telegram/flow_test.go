package telegram

import "testing"

func TestLoginFlowHappyPath(t *testing.T) {
	f := newLoginFlow()

	if err := f.begin("+1555"); err != nil {
		t.Fatal(err)
	}
	if f.current() != stateSendingCode {
		t.Fatalf("state = %v", f.current())
	}
	if err := f.codeSent("hash123"); err != nil {
		t.Fatal(err)
	}
	if f.current() != stateAwaitingCode {
		t.Fatalf("state = %v", f.current())
	}
	if err := f.succeed(); err != nil {
		t.Fatal(err)
	}
	if f.current() != stateAuthenticated {
		t.Fatalf("state = %v", f.current())
	}
}

func TestLoginFlowInvalidCodeKeepsState(t *testing.T) {
	f := newLoginFlow()
	if err := f.begin("+1555"); err != nil {
		t.Fatal(err)
	}
	if err := f.codeSent("h"); err != nil {
		t.Fatal(err)
	}

	if err := f.codeRejected(); err != nil {
		t.Fatal(err)
	}
	if f.current() != stateAwaitingCode {
		t.Errorf("state after rejection = %v, want awaiting-code", f.current())
	}

	// Retry still succeeds from the same state.
	if err := f.succeed(); err != nil {
		t.Fatal(err)
	}
}

func TestLoginFlowPasswordStage(t *testing.T) {
	f := newLoginFlow()
	if err := f.begin("+1555"); err != nil {
		t.Fatal(err)
	}
	if err := f.codeSent("h"); err != nil {
		t.Fatal(err)
	}
	if err := f.passwordNeeded(); err != nil {
		t.Fatal(err)
	}
	if f.current() != stateAwaitingPassword {
		t.Fatalf("state = %v", f.current())
	}

	if err := f.passwordRejected(); err != nil {
		t.Fatal(err)
	}
	if f.current() != stateAwaitingPassword {
		t.Errorf("state after bad password = %v", f.current())
	}

	if err := f.succeed(); err != nil {
		t.Fatal(err)
	}
	if f.current() != stateAuthenticated {
		t.Fatalf("state = %v", f.current())
	}
}

func TestLoginFlowQRPasswordFromSendingCode(t *testing.T) {
	f := newLoginFlow()
	if err := f.begin("qr"); err != nil {
		t.Fatal(err)
	}
	// QR login skips the code stage entirely.
	if err := f.passwordNeeded(); err != nil {
		t.Fatal(err)
	}
	if f.current() != stateAwaitingPassword {
		t.Fatalf("state = %v", f.current())
	}
}

func TestLoginFlowIllegalTransitions(t *testing.T) {
	f := newLoginFlow()

	if err := f.codeSent("h"); err == nil {
		t.Error("codeSent from idle should fail")
	}
	if err := f.passwordNeeded(); err == nil {
		t.Error("passwordNeeded from idle should fail")
	}
	if err := f.succeed(); err == nil {
		t.Error("succeed from idle should fail")
	}

	if err := f.begin("+1"); err != nil {
		t.Fatal(err)
	}
	if err := f.begin("+2"); err == nil {
		t.Error("begin while in progress should fail")
	}
}

func TestLoginFlowFailAndRestart(t *testing.T) {
	f := newLoginFlow()
	if err := f.begin("+1555"); err != nil {
		t.Fatal(err)
	}
	f.fail("code expired")
	if f.current() != stateFailed {
		t.Fatalf("state = %v", f.current())
	}

	if err := f.begin("+1555"); err != nil {
		t.Errorf("restart after failure: %v", err)
	}
	if f.current() != stateSendingCode {
		t.Fatalf("state = %v", f.current())
	}
}
