package offlineop

import "testing"

func TestHasChecksIndividualBits(t *testing.T) {
	t2 := FlagsChanged | MsgMoved
	if !t2.Has(FlagsChanged) || !t2.Has(MsgMoved) {
		t.Fatal("Has should report set bits true")
	}
	if t2.Has(AppendDraft) {
		t.Fatal("Has should report unset bits false")
	}
}

func TestPlaybackOrderMatchesReplaySequence(t *testing.T) {
	want := []Type{FlagsChanged, AddKeywords, RemoveKeywords, MsgCopy, MsgMoved, AppendDraft, AppendTemplate, DeleteAllMsgs}
	got := PlaybackOrder()
	if len(got) != len(want) {
		t.Fatalf("got %d types, want %d", len(got), len(want))
	}
	for i, ty := range want {
		if got[i] != ty {
			t.Fatalf("PlaybackOrder()[%d] = %v, want %v", i, got[i], ty)
		}
	}
}

func TestCoalesceKeyByType(t *testing.T) {
	o := &Operation{FlagMask: 0xFF, KeywordsAdd: "important", KeywordsRemove: "spam", DestFolderID: "f2"}

	cases := []struct {
		ty   Type
		want any
	}{
		{FlagsChanged, uint32(0xFF)},
		{AddKeywords, "important"},
		{RemoveKeywords, "spam"},
		{MsgCopy, "f2"},
		{MsgMoved, "f2"},
		{DeleteAllMsgs, nil},
	}
	for _, c := range cases {
		if got := o.CoalesceKey(c.ty); got != c.want {
			t.Fatalf("CoalesceKey(%v) = %v, want %v", c.ty, got, c.want)
		}
	}
}
