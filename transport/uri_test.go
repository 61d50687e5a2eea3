package transport

import "testing"

func TestDialRejectsAdapterSideTCPConnectForm(t *testing.T) {
	_, err := Dial("tcp://example.com:9000", SideAdapter)
	if err != ErrWrongSideForm {
		t.Errorf("err = %v, want ErrWrongSideForm", err)
	}
}

func TestDialRejectsHarnessSideTCPListenForm(t *testing.T) {
	_, err := Dial("tcp://:9000", SideHarness)
	if err != ErrWrongSideForm {
		t.Errorf("err = %v, want ErrWrongSideForm", err)
	}
}

func TestDialUnknownScheme(t *testing.T) {
	_, err := Dial("carrier-pigeon://nowhere", SideHarness)
	if err != ErrUnknownScheme {
		t.Errorf("err = %v, want ErrUnknownScheme", err)
	}
}

func TestDialMalformedSerialURI(t *testing.T) {
	_, err := Dial("serial://", SideAdapter)
	if err != ErrMalformedURI {
		t.Errorf("err = %v, want ErrMalformedURI", err)
	}
}
