package journal

// Schema creates the journal tables. Applied through database.Migrate so a
// restart against an existing ledger is a no-op.
const Schema = `
CREATE TABLE IF NOT EXISTS equity (
	ts TEXT PRIMARY KEY,
	equity REAL NOT NULL,
	cash REAL NOT NULL,
	portfolio_value REAL NOT NULL,
	benchmark_value REAL
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	price REAL,
	order_id TEXT,
	status TEXT
);

CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	qty REAL NOT NULL,
	avg_entry_price REAL,
	market_value REAL,
	unrealized_pl REAL
);

CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	score REAL NOT NULL,
	signal TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
CREATE INDEX IF NOT EXISTS idx_positions_ts ON positions(ts);
CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts);
`
