// Dumps all incoming flow messages to a local sqlite database. The schema used
// for this is preset and covers the fields handled by the anonymize segment.
package sqlite

import (
	"database/sql"
	"log"
	"net"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bwNetFlow/flowanon/segments"
)

const createStmt = `CREATE TABLE IF NOT EXISTS flows (
	Type INTEGER,
	TimeReceived INTEGER,
	SequenceNum INTEGER,
	SamplingRate INTEGER,
	SamplerAddress TEXT,
	TimeFlowStart INTEGER,
	TimeFlowEnd INTEGER,
	Bytes INTEGER,
	Packets INTEGER,
	SrcAddr TEXT,
	DstAddr TEXT,
	NextHop TEXT,
	SrcMac INTEGER,
	DstMac INTEGER,
	Etype INTEGER,
	Proto INTEGER,
	SrcPort INTEGER,
	DstPort INTEGER,
	InIf INTEGER,
	OutIf INTEGER,
	IPTos INTEGER,
	TCPFlags INTEGER,
	FragmentId INTEGER,
	SrcAS INTEGER,
	DstAS INTEGER,
	NextHopAS INTEGER);`

const insertStmt = `INSERT INTO flows VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type Sqlite struct {
	segments.BaseSegment
	db *sql.DB

	FileName  string // required
	BatchSize int    // optional, default is 1000, flows per transaction
}

func (segment Sqlite) New(config map[string]string) segments.Segment {
	if config["filename"] == "" {
		log.Println("[error] Sqlite: This segment requires a 'filename' parameter.")
		return nil
	}

	var batchSize int = 1000
	if config["batchsize"] != "" {
		if parsedBatchSize, err := strconv.Atoi(config["batchsize"]); err == nil && parsedBatchSize > 0 {
			batchSize = parsedBatchSize
		} else {
			log.Println("[error] Sqlite: Could not parse 'batchsize' parameter, using default 1000.")
		}
	} else {
		log.Println("[info] Sqlite: 'batchsize' set to default '1000'.")
	}

	db, err := sql.Open("sqlite3", config["filename"])
	if err != nil {
		log.Printf("[error] Sqlite: Could not open DB file at %s: %v", config["filename"], err)
		return nil
	}
	db.SetMaxOpenConns(1) // every connection to :memory: is a database of its own
	if _, err := db.Exec(createStmt); err != nil {
		log.Printf("[error] Sqlite: Could not create table in %s: %v", config["filename"], err)
		db.Close()
		return nil
	}

	return &Sqlite{
		db:        db,
		FileName:  config["filename"],
		BatchSize: batchSize,
	}
}

func addrString(addr []byte) string {
	if len(addr) == 0 {
		return ""
	}
	return net.IP(addr).String()
}

func (segment *Sqlite) Run(wg *sync.WaitGroup) {
	var tx *sql.Tx
	var stmt *sql.Stmt
	var pending int
	commit := func() {
		if tx == nil {
			return
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			log.Printf("[warning] Sqlite: Could not commit %d flows: %v", pending, err)
		}
		tx, stmt, pending = nil, nil, 0
	}
	defer func() {
		commit()
		segment.db.Close()
		close(segment.Out)
		wg.Done()
	}()

	for msg := range segment.In {
		if tx == nil {
			var err error
			if tx, err = segment.db.Begin(); err != nil {
				log.Printf("[warning] Sqlite: Could not start transaction: %v", err)
				tx = nil
				segment.Out <- msg
				continue
			}
			if stmt, err = tx.Prepare(insertStmt); err != nil {
				log.Printf("[error] Sqlite: Could not prepare statement: %v", err)
				tx.Rollback()
				tx = nil
				segment.Out <- msg
				continue
			}
		}
		_, err := stmt.Exec(int32(msg.Type), msg.TimeReceived, msg.SequenceNum, msg.SamplingRate,
			addrString(msg.SamplerAddress), msg.TimeFlowStart, msg.TimeFlowEnd, msg.Bytes, msg.Packets,
			addrString(msg.SrcAddr), addrString(msg.DstAddr), addrString(msg.NextHop),
			int64(msg.SrcMac), int64(msg.DstMac), msg.Etype, msg.Proto, msg.SrcPort, msg.DstPort,
			msg.InIf, msg.OutIf, msg.IPTos, msg.TCPFlags, msg.FragmentId,
			msg.SrcAS, msg.DstAS, msg.NextHopAS)
		if err != nil {
			log.Printf("[warning] Sqlite: Could not insert flow data: %v", err)
		} else {
			pending++
		}
		if pending >= segment.BatchSize {
			commit()
		}
		segment.Out <- msg
	}
}

func init() {
	segment := &Sqlite{}
	segments.RegisterSegment("sqlite", segment)
}
