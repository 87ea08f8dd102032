package model_test

import (
	"fmt"
	"strings"
	"testing"

	"ojkit/internal/judge/model"
	"ojkit/internal/testutil"
	pkgerrors "ojkit/pkg/errors"
)

func TestSummary(t *testing.T) {
	outcomes := []model.Outcome{
		{Index: 0, Status: model.StatusPassed},
		{Index: 1, Status: model.StatusWrongAnswer},
		{Index: 2, Status: model.StatusPassed},
	}
	s := model.Summarize(3, outcomes)
	testutil.AssertEqual(t, s.String(), "2/3 passed")
	testutil.AssertEqual(t, s.Message(), "1/3 tests failed.")
	testutil.AssertFalse(t, s.AllPassed(), "one case failed")

	all := model.Summarize(1, outcomes[:1])
	testutil.AssertEqual(t, all.Message(), "All of the 1 test passed.")

	stopped := model.Summarize(3, outcomes[:2])
	testutil.AssertEqual(t, stopped.Failed(), 2)
}

func TestParseJudge(t *testing.T) {
	j, err := model.ParseJudge(" AtCoder ")
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, j, model.JudgeAtCoder)

	_, err = model.ParseJudge("topcoder")
	testutil.AssertCode(t, err, pkgerrors.JudgeNotFound)
}

func TestCredentialsRedacted(t *testing.T) {
	c := model.Credentials{Username: "tourist", Password: "hunter2"}
	for _, s := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%#v", c), fmt.Sprintf("%+v", c)} {
		testutil.AssertFalse(t, strings.Contains(s, "hunter2"), "password leaked: "+s)
	}
}

func TestKeyPath(t *testing.T) {
	k := model.Key{Judge: model.JudgeYukicoder, Problem: "1234"}
	testutil.AssertEqual(t, k.Path(), "yukicoder/_/1234")
	k.Contest = "abc300"
	testutil.AssertEqual(t, k.Path(), "yukicoder/abc300/1234")
}

func TestVerdictTerminal(t *testing.T) {
	testutil.AssertFalse(t, model.VerdictPending.IsTerminal(), "pending is not terminal")
	testutil.AssertTrue(t, model.VerdictUnknown.IsTerminal(), "unknown ends polling")
	testutil.AssertTrue(t, model.VerdictAccepted.IsTerminal(), "accepted is terminal")
}
