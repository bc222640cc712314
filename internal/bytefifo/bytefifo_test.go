package bytefifo

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestWriteRead(t *testing.T) {
	f := New(16)
	if n := f.Write([]byte{1, 2, 3}); n != 3 {
		t.Fatalf("Write stored %d, want 3", n)
	}
	var buf [8]byte
	n, err := f.Read(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], []byte{1, 2, 3}) {
		t.Errorf("Read gave %v", buf[:n])
	}
}

func TestOverflowDrops(t *testing.T) {
	f := New(4)
	if n := f.Write([]byte{1, 2, 3, 4, 5, 6}); n != 4 {
		t.Fatalf("Write stored %d, want 4", n)
	}
	if f.Len() != 4 {
		t.Errorf("Len = %d, want 4", f.Len())
	}
}

func TestReadBlocksUntilWrite(t *testing.T) {
	f := New(16)
	got := make(chan byte)
	go func() {
		var buf [1]byte
		f.Read(buf[:])
		got <- buf[0]
	}()
	select {
	case <-got:
		t.Fatal("Read returned before any write")
	case <-time.After(10 * time.Millisecond):
	}
	f.Write([]byte{42})
	select {
	case b := <-got:
		if b != 42 {
			t.Errorf("read %d, want 42", b)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not wake after Write")
	}
}

func TestCloseWakesAndDrains(t *testing.T) {
	f := New(16)
	f.Write([]byte{7})
	f.Close()
	var buf [4]byte
	n, err := f.Read(buf[:])
	if err != nil || n != 1 || buf[0] != 7 {
		t.Fatalf("drain read: n=%d err=%v", n, err)
	}
	if _, err := f.Read(buf[:]); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
	if n := f.Write([]byte{1}); n != 0 {
		t.Errorf("write after close stored %d", n)
	}
}
