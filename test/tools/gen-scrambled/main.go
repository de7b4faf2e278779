// gen-scrambled scrambles the payloads of one PID in a clear MPEG-TS
// capture, producing fixtures for descrambler testing. The control word
// encoding selects the cipher: 12 or 16 hex digits scramble with DVB-CSA,
// 32 digits with BISS-2 CISSA (AES-128-CBC).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gizahNL/upipe/internal/cissa"
	"github.com/gizahNL/upipe/internal/csa"
	"github.com/gizahNL/upipe/internal/cw"
	"github.com/gizahNL/upipe/internal/mpegts"
)

func main() {
	in := flag.String("in", "", "clear TS input file")
	out := flag.String("out", "", "scrambled TS output file")
	word := flag.String("cw", "", "control word (hex)")
	pid := flag.Uint("pid", 0x100, "PID to scramble")
	parity := flag.String("parity", "even", "scrambling parity: even or odd")
	flag.Parse()

	if *in == "" || *out == "" || *word == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *pid > mpegts.MaxPID {
		log.Fatalf("pid %#x out of range", *pid)
	}

	c, err := cw.Parse(*word)
	if err != nil {
		log.Fatalf("parse control word: %v", err)
	}

	var scramble func([]byte)
	if c.IsAES() {
		key, err := cissa.NewKey(c.AESKey())
		if err != nil {
			log.Fatalf("open AES key: %v", err)
		}
		scramble = key.Encrypt
	} else {
		scramble = csa.NewKey(c.CSAWord()).Encrypt
	}

	sc := mpegts.ScramblingEven
	if *parity == "odd" {
		sc = mpegts.ScramblingOdd
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		log.Fatal(err)
	}

	scrambled := 0
	for off := 0; off+mpegts.PacketSize <= len(data); off += mpegts.PacketSize {
		pktData := data[off : off+mpegts.PacketSize]
		hdr, err := mpegts.ParseHeader(pktData)
		if err != nil || !hdr.HasPayload || hdr.PID != uint16(*pid) ||
			hdr.Scrambling != mpegts.ScramblingNone {
			continue
		}
		scramble(pktData[hdr.Size:])
		mpegts.NewPacket(pktData).SetScrambling(sc)
		scrambled++
	}

	if err := os.WriteFile(*out, data, 0644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("scrambled %d packets on PID %#x\n", scrambled, *pid)
}
