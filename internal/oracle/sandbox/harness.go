package sandbox

const harnessFile = "__oracle_runner__.py"

// harnessConfig is sent to the harness on stdin. Tests and results live in a
// private directory outside the candidate's work dir, and the harness echoes
// Nonce back so results written by anyone else are rejected.
type harnessConfig struct {
	Module   string `json:"module"`
	Function string `json:"function"`
	Tests    string `json:"tests"`
	Results  string `json:"results"`
	Nonce    string `json:"nonce"`
}

// harnessResults is what the harness writes to the results path.
type harnessResults struct {
	Nonce       string    `json:"nonce"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Failures    []Failure `json:"failures"`
	MemoryError bool      `json:"memory_error"`
}

// functionHarness imports the candidate module, calls the entry function once
// per test and writes harnessResults to the results path from its stdin config.
const functionHarness = `import importlib
import json
import os
import sys
import traceback

TRACE_LIMIT = 2000


def normalize(value):
    if isinstance(value, (list, tuple)):
        return [normalize(v) for v in value]
    if isinstance(value, dict):
        return {k: normalize(v) for k, v in value.items()}
    return value


def matches(got, expected):
    if got == expected:
        return True
    if isinstance(got, (list, tuple)) and isinstance(expected, (list, tuple)):
        return normalize(got) == normalize(expected)
    return False


def main():
    cfg = json.loads(sys.stdin.read())
    sys.stdin = open(os.devnull)
    module_name = cfg["module"]
    func_name = cfg["function"]
    tests_path = cfg["tests"]
    results_path = cfg.pop("results")
    nonce = cfg.pop("nonce")
    del cfg
    sys.path.insert(0, ".")
    results = {"passed": 0, "failed": 0, "failures": [], "memory_error": False}

    def fail(name, error, inp=None, expected=None, got=None):
        results["failures"].append({
            "test_name": name,
            "input": inp,
            "expected": expected,
            "got": got,
            "error": error,
        })

    def dump():
        out = dict(results, nonce=nonce)
        with open(results_path, "w", encoding="utf-8") as f:
            json.dump(out, f, default=repr, ensure_ascii=False)

    try:
        with open(tests_path, encoding="utf-8") as f:
            tests = json.load(f)
    except Exception as e:
        results["failed"] = 1
        fail("__runner_init__", "Runner Init Failed: " + str(e))
        dump()
        return

    try:
        mod = importlib.import_module(module_name)
    except BaseException as e:
        results["failed"] = max(1, len(tests))
        results["memory_error"] = isinstance(e, MemoryError)
        fail("__import__", "Import Failed: " + str(e) + "\n" + traceback.format_exc()[-TRACE_LIMIT:])
        dump()
        return

    fn = getattr(mod, func_name, None)
    if fn is None or not callable(fn):
        results["failed"] = max(1, len(tests))
        fail("__init__", "Function '%s' not found in module '%s'" % (func_name, module_name))
        dump()
        return

    for t in tests:
        name = t.get("name")
        inp = t.get("input")
        expected = t.get("expected")
        try:
            got = fn(*inp) if isinstance(inp, list) else fn(inp)
        except MemoryError:
            results["memory_error"] = True
            results["failed"] += 1
            fail(name, "MemoryError", inp, expected)
            continue
        except Exception as e:
            results["failed"] += 1
            fail(name, str(e) + "\n" + traceback.format_exc()[-TRACE_LIMIT:], inp, expected)
            continue
        if matches(got, expected):
            results["passed"] += 1
        else:
            results["failed"] += 1
            fail(name, None, inp, expected, got)

    dump()


if __name__ == "__main__":
    main()
`
