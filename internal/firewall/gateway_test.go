package firewall

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
)

func newTestGateway(t *testing.T, runner *MockCommandRunner) *Gateway {
	t.Helper()
	return New(Config{Chain: "INTERCEPTOR", Binary: "iptables", Runner: runner})
}

func TestStart_RemovesStaleLinksThenCreatesAndLinksOnce(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Output", "iptables", "-S").Return([]byte("-P INPUT ACCEPT\n-A INPUT -j INTERCEPTOR\n-A INPUT -j INTERCEPTOR\n"), nil)
	runner.On("Run", "iptables", "-D", "INPUT", "-j", "INTERCEPTOR").Return(nil).Twice()
	runner.On("Run", "iptables", "-N", "INTERCEPTOR").Return(nil)
	runner.On("Run", "iptables", "-A", "INPUT", "-j", "INTERCEPTOR").Return(nil)

	gw := newTestGateway(t, runner)
	if err := gw.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	runner.AssertExpectations(t)
}

func TestAdd_NoOpIfRuleExists(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", "iptables", "-C", "INTERCEPTOR", "-s", "203.0.113.5", "-j", "REJECT").Return(nil)

	gw := newTestGateway(t, runner)
	if err := gw.Add("203.0.113.5"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	runner.AssertNotCalled(t, "Run", "iptables", "-A", "INTERCEPTOR", "-s", "203.0.113.5", "-j", "REJECT")
}

func TestAdd_AppendsRuleWhenAbsent(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", "iptables", "-C", "INTERCEPTOR", "-s", "203.0.113.5", "-j", "REJECT").
		Return(errors.New("exit status 1"))
	runner.On("Run", "iptables", "-A", "INTERCEPTOR", "-s", "203.0.113.5", "-j", "REJECT").Return(nil)

	gw := newTestGateway(t, runner)
	if err := gw.Add("203.0.113.5"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	runner.AssertExpectations(t)
}

func TestAdd_CalledTwiceIsIdempotent(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", "iptables", "-C", "INTERCEPTOR", "-s", "203.0.113.5", "-j", "REJECT").
		Return(errors.New("exit status 1")).Once()
	runner.On("Run", "iptables", "-A", "INTERCEPTOR", "-s", "203.0.113.5", "-j", "REJECT").Return(nil).Once()
	runner.On("Run", "iptables", "-C", "INTERCEPTOR", "-s", "203.0.113.5", "-j", "REJECT").
		Return(nil).Once()

	gw := newTestGateway(t, runner)
	if err := gw.Add("203.0.113.5"); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	if err := gw.Add("203.0.113.5"); err != nil {
		t.Fatalf("second Add failed: %v", err)
	}
	runner.AssertNumberOfCalls(t, "Run", 3)
}

func TestRemove_ToleratesNotFound(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", "iptables", "-D", "INTERCEPTOR", "-s", "203.0.113.5", "-j", "REJECT").
		Return(errors.New("iptables: Bad rule (does a matching rule exist in that chain?)"))

	gw := newTestGateway(t, runner)
	if err := gw.Remove("203.0.113.5"); err != nil {
		t.Fatalf("Remove should tolerate not-found, got: %v", err)
	}
}

func TestReset_FlushesUnlinksAndDeletes(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", "iptables", "-F", "INTERCEPTOR").Return(nil)
	runner.On("Output", "iptables", "-S").Return([]byte("-A INPUT -j INTERCEPTOR\n"), nil)
	runner.On("Run", "iptables", "-D", "INPUT", "-j", "INTERCEPTOR").Return(nil).Once()
	runner.On("Run", "iptables", "-X", "INTERCEPTOR").Return(nil)

	gw := newTestGateway(t, runner)
	if err := gw.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	runner.AssertExpectations(t)
}

func TestUsesInput_SkipsChainCreation(t *testing.T) {
	runner := new(MockCommandRunner)
	gw := New(Config{Chain: "INPUT", Binary: "iptables", Runner: runner})

	if err := gw.Start(); err != nil {
		t.Fatalf("Start on INPUT mode should be a no-op, got: %v", err)
	}
	runner.AssertNotCalled(t, "Run", mock.Anything)
}
